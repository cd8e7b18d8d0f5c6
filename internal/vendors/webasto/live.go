// internal/vendors/webasto/live.go
package webasto

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/writer"
)

// LiveClass is the TQ based Webasto Live. Same vendor, older register
// family: holding registers only, no session actions, power is the
// charge current.
const LiveClass = "webasto-live"

// LiveDefaultMinCurrent is the lowest current the Live accepts.
const LiveDefaultMinCurrent = 6

const regChargedEnergy = "charged_energy"

// Cable states.
const (
	cableVehicle = 2
	cableLocked  = 3
)

var liveReadSignals = []codec.Signal{
	{Name: state.ChargePointState, FC: codec.FCHolding, Address: 1000, Kind: codec.KindEnum, Enum: chargerStates},
	{Name: regCableState, FC: codec.FCHolding, Address: 1004, Kind: codec.KindEnum, Enum: map[uint16]string{
		0: "no_cable", 1: "cable_no_vehicle", 2: "cable_vehicle", 3: "cable_locked",
	}},
	{Name: regEVSEError, FC: codec.FCHolding, Address: 1006, Kind: codec.KindUint16},
	{Name: regCurrentL1, FC: codec.FCHolding, Address: 1008, Kind: codec.KindUint16},
	{Name: regCurrentL2, FC: codec.FCHolding, Address: 1010, Kind: codec.KindUint16},
	{Name: regCurrentL3, FC: codec.FCHolding, Address: 1012, Kind: codec.KindUint16},
	{Name: regPowerTotal, FC: codec.FCHolding, Address: 1020, Kind: codec.KindUint32},
	{Name: regEnergy, FC: codec.FCHolding, Address: 1036, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regMaxCurrent, FC: codec.FCHolding, Address: 1100, Kind: codec.KindUint16},
	{Name: regChargedEnergy, FC: codec.FCHolding, Address: 1502, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regChargingTime, FC: codec.FCHolding, Address: 1508, Kind: codec.KindUint32},
}

var liveWriteSignals = []codec.Signal{
	{Name: regChargeCurrent, FC: codec.FCHolding, Address: 5004, Kind: codec.KindUint16},
}

var (
	liveRegisters = codec.MustMap(append(append([]codec.Signal{}, liveReadSignals...), liveWriteSignals...)...)
	livePlan      = poller.Coalesce(liveReadSignals)
)

// LiveAdapter drives Webasto Live wallboxes over Modbus TCP.
type LiveAdapter struct {
	faults *FaultTable
}

func NewLive() *LiveAdapter { return &LiveAdapter{faults: defaultFaults} }

func (a *LiveAdapter) Name() string                 { return Name }
func (a *LiveAdapter) Class() string                { return LiveClass }
func (a *LiveAdapter) Cadence() time.Duration       { return cadence }
func (a *LiveAdapter) Registers() *codec.Map        { return liveRegisters }
func (a *LiveAdapter) ReadPlan() []poller.ReadBlock { return livePlan }
func (a *LiveAdapter) LiveSignals() []string        { return state.LiveSignals }

func (a *LiveAdapter) Quirks() []quirk.Rule {
	return []quirk.Rule{
		quirk.Above(regMaxCurrent, 32),
	}
}

func (a *LiveAdapter) Setup(vendor.Settings) ([]state.Update, writer.Sequence, error) {
	return []state.Update{state.SetMin(state.MaxChargingCurrent, LiveDefaultMinCurrent)}, nil, nil
}

func (a *LiveAdapter) Translate(readings []codec.RegisterValue, _ state.Reader) []state.Update {
	var out []state.Update
	get := func(name string) (codec.Value, bool) { return vendor.Lookup(readings, name) }
	num := func(name string) (float64, bool) {
		v, ok := get(name)
		if !ok {
			return 0, false
		}
		return v.Number()
	}

	if v, ok := get(state.ChargePointState); ok {
		out = append(out, state.Set(state.ChargePointState, v))
		if v.Known {
			out = append(out, state.Set(state.Charging, codec.Bool(v.Int == chargerCharging)))
		}
	}
	if v, ok := get(regCableState); ok {
		out = append(out, state.Set(regCableState, v))
		if v.Known {
			out = append(out, state.Set(state.PluggedIn, codec.Bool(v.Int == cableVehicle || v.Int == cableLocked)))
		}
	}
	if v, ok := get(regEVSEError); ok {
		out = append(out, state.Set(state.Error, codec.String(a.faults.Text(uint16(v.Int)))))
	}

	for _, m := range []struct{ reg, sig string }{
		{regCurrentL1, state.CurrentPhaseA},
		{regCurrentL2, state.CurrentPhaseB},
		{regCurrentL3, state.CurrentPhaseC},
		{regPowerTotal, state.CurrentPower},
		{regEnergy, state.TotalEnergy},
		{regChargedEnergy, state.SessionEnergy},
	} {
		if n, ok := num(m.reg); ok {
			out = append(out, state.Set(m.sig, codec.Float(n)))
		}
	}

	ia, okA := num(regCurrentL1)
	ib, okB := num(regCurrentL2)
	ic, okC := num(regCurrentL3)
	if okA && okB && okC {
		if used, count, ok := vendor.PhasesFromCurrents(ia, ib, ic); ok {
			out = append(out,
				state.Set(state.UsedPhases, codec.String(used)),
				state.Set(state.PhaseCount, codec.Int(int64(count))),
			)
		}
	}

	if n, ok := num(regMaxCurrent); ok {
		out = append(out, state.SetMax(state.MaxChargingCurrent, n), state.Set(regMaxCurrent, codec.Int(int64(n))))
	}
	if v, ok := get(regChargingTime); ok {
		out = append(out, state.Set(state.SessionTime, v))
	}
	return out
}

func (a *LiveAdapter) AfterCycle([]codec.RegisterValue, state.Reader) writer.Sequence { return nil }

// EncodePower writes the held current to charge and 0 to pause.
func (a *LiveAdapter) EncodePower(on bool, cur state.Reader, _ vendor.ActionOptions) (vendor.Plan, error) {
	amps := int64(0)
	if on {
		amps = liveHeldCurrent(cur)
	}
	seq, err := writer.Build(liveRegisters, writer.Assign{Signal: regChargeCurrent, Value: codec.Int(amps)})
	if err != nil {
		return vendor.Plan{}, err
	}
	return vendor.Plan{Signal: state.Power, Expected: codec.Bool(on), Steps: seq}, nil
}

// EncodeMaxCurrent writes the charge current while power is on. While
// paused a write would resume charging, so the value is only held.
func (a *LiveAdapter) EncodeMaxCurrent(amps float64, cur state.Reader) (vendor.Plan, error) {
	n := int64(math.Round(amps))
	if n < 0 || n > math.MaxUint16 {
		return vendor.Plan{}, fmt.Errorf("%w: %d A", fault.ErrInvalidValue, n)
	}
	plan := vendor.Plan{Signal: state.MaxChargingCurrent, Expected: codec.Int(n)}

	if !powered(cur) {
		plan.Updates = []state.Update{state.Set(state.MaxChargingCurrent, codec.Int(n))}
		return plan, nil
	}

	seq, err := writer.Build(liveRegisters, writer.Assign{Signal: regChargeCurrent, Value: codec.Int(n)})
	if err != nil {
		return vendor.Plan{}, err
	}
	plan.Steps = seq
	return plan, nil
}

func powered(cur state.Reader) bool {
	if cur == nil {
		return false
	}
	p, ok := cur.Get(state.Power)
	return ok && p.Bool
}

func liveHeldCurrent(cur state.Reader) int64 {
	if cur != nil {
		if v, ok := cur.Get(state.MaxChargingCurrent); ok && v.Int > 0 {
			return v.Int
		}
	}
	return LiveDefaultMinCurrent
}

// Discovery browses mDNS for Webasto hosts and keeps those answering
// the charge point state as a holding register.
func (a *LiveAdapter) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &discovery.MDNS{
		Service: "_http._tcp",
		Window:  deps.Window,
		Build:   liveCandidate,
		Verify: func(ctx context.Context, r discovery.Result) (discovery.Result, bool) {
			return verify(ctx, deps.Dialer, r, codec.FCHolding, log)
		},
		Log: log,
	}
}

func liveCandidate(e *zeroconf.ServiceEntry) (discovery.Result, bool) {
	return candidate(e, "Webasto Live")
}
