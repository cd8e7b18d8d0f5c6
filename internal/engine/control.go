// internal/engine/control.go
package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/tamzrod/chargerlink/internal/action"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// SetPower starts or stops charging. It returns a correlation id whose
// outcome arrives through the notifier; ctx bounds only the call, the
// write itself lives as long as the device.
func (e *Engine) SetPower(ctx context.Context, deviceID string, on bool, opts vendor.ActionOptions) (string, error) {
	d, err := e.controllable(ctx, deviceID)
	if err != nil {
		return "", err
	}
	plan, err := d.adapter.EncodePower(on, d.store, opts)
	if err != nil {
		return "", err
	}
	return e.submit(d, plan), nil
}

// SetMaxCurrent sets the charging current limit in amperes, within the
// bounds the device declares.
func (e *Engine) SetMaxCurrent(ctx context.Context, deviceID string, amps float64) (string, error) {
	d, err := e.controllable(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if math.IsNaN(amps) || amps < 0 {
		return "", fmt.Errorf("%w: %v A", fault.ErrInvalidValue, amps)
	}
	min, max := d.store.Bounds(state.MaxChargingCurrent)
	if (min != nil && amps < *min) || (max != nil && amps > *max) {
		return "", fmt.Errorf("%w: %v A outside %s", fault.ErrInvalidValue, amps, bounds(min, max))
	}

	plan, err := d.adapter.EncodeMaxCurrent(amps, d.store)
	if err != nil {
		return "", err
	}
	return e.submit(d, plan), nil
}

// controllable fails fast: no pending action is created for a device
// that cannot take a write right now.
func (e *Engine) controllable(ctx context.Context, id string) (*device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrCancelled, err)
	}
	d, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if !d.sup.Reachable() {
		return nil, fmt.Errorf("%w: %s is %s", fault.ErrHardwareUnavailable, id, d.sup.State())
	}
	return d, nil
}

func (e *Engine) submit(d *device, plan vendor.Plan) string {
	tk := e.tracker.Submit(action.Request{
		DeviceID: d.id,
		Signal:   plan.Signal,
		Expected: plan.Expected,
	})

	if plan.Local() {
		d.store.Apply(plan.Updates...)
	}

	ok := e.spawn(func() {
		var err error
		if !plan.Local() {
			err = d.write(d.ctx, plan.Steps)
			if err == nil {
				d.store.Apply(plan.Updates...)
			}
		}
		e.tracker.Resolve(tk.ID, err)
	})
	if !ok {
		e.tracker.Resolve(tk.ID, fmt.Errorf("%w: engine closed", fault.ErrCancelled))
	}
	return tk.ID
}

// actionSucceeded stores the value a successful action established.
func (e *Engine) actionSucceeded(t *action.Ticket) {
	if t.Signal == "" || !t.Expected.IsSet() {
		return
	}
	d, err := e.lookup(t.DeviceID)
	if err != nil {
		return
	}
	d.store.Set(t.Signal, t.Expected)
}

func bounds(min, max *float64) string {
	lo, hi := "-inf", "+inf"
	if min != nil {
		lo = fmt.Sprint(*min)
	}
	if max != nil {
		hi = fmt.Sprint(*max)
	}
	return "[" + lo + ", " + hi + "]"
}
