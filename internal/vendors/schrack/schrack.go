// internal/vendors/schrack/schrack.go
package schrack

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/writer"
)

const (
	Name  = "schrack"
	Class = "schrack-cion"

	cadence = 2 * time.Second

	// Bounds the wallbox falls back to after a restart.
	DefaultMinCurrent = 6
	DefaultMaxCurrent = 32

	SettingPhases = "phases"
	DefaultPhases = "A, B, C"
)

// Register names.
const (
	regChargingEnabled  = "charging_enabled"
	regSetpoint         = "charging_current_setpoint"
	regStatusBits       = "status_bits"
	regCurrentE3        = "current_charging_current_e3"
	regMaxE3            = "max_charging_current_e3"
	regCPSignal         = "cp_signal_state"
	regChargingDuration = "charging_duration"
	regPluggedDuration  = "plugged_in_duration"
	regMinCurrent       = "min_charging_current"
	regFirmware         = "firmware_version"
)

// CP signal states are ASCII 'A'..'D'; 'B' and above means a vehicle.
const (
	cpA = 'A'
	cpB = 'B'
	cpD = 'D'
)

const firmwareAddr = 901

var readSignals = []codec.Signal{
	{Name: regChargingEnabled, FC: codec.FCHolding, Address: 100, Kind: codec.KindUint16},
	{Name: regSetpoint, FC: codec.FCHolding, Address: 101, Kind: codec.KindUint16},
	{Name: regStatusBits, FC: codec.FCHolding, Address: 121, Kind: codec.KindUint16},
	{Name: regCurrentE3, FC: codec.FCHolding, Address: 126, Kind: codec.KindUint16},
	{Name: regMaxE3, FC: codec.FCHolding, Address: 127, Kind: codec.KindUint16},
	{Name: regCPSignal, FC: codec.FCHolding, Address: 136, Kind: codec.KindUint16},
	{Name: regChargingDuration, FC: codec.FCHolding, Address: 151, Kind: codec.KindUint32},
	{Name: regPluggedDuration, FC: codec.FCHolding, Address: 153, Kind: codec.KindUint32},
	{Name: regMinCurrent, FC: codec.FCHolding, Address: 507, Kind: codec.KindUint16},
}

var identitySignal = codec.Signal{Name: regFirmware, FC: codec.FCHolding, Address: firmwareAddr, Kind: codec.KindString, Length: 2}

var (
	registers = codec.MustMap(append(append([]codec.Signal{}, readSignals...), identitySignal)...)
	readPlan  = poller.Coalesce(readSignals)
)

// Adapter drives Schrack CION wallboxes on a shared Modbus RTU bus.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string                 { return Name }
func (a *Adapter) Class() string                { return Class }
func (a *Adapter) Cadence() time.Duration       { return cadence }
func (a *Adapter) Registers() *codec.Map        { return registers }
func (a *Adapter) ReadPlan() []poller.ReadBlock { return readPlan }
func (a *Adapter) LiveSignals() []string        { return state.LiveSignals }

func (a *Adapter) Quirks() []quirk.Rule {
	return []quirk.Rule{
		// register 507 occasionally holds random values
		quirk.Above(regMinCurrent, 32),
		// reads 0 while unplugged, which is not a real bound
		quirk.Zero(regMaxE3),
		quirk.OutsideRange(regCPSignal, cpA, cpD),
	}
}

// Setup resets the bounds to the wallbox defaults, since a restarted
// wallbox reports its defaults without a change, and applies the
// configured phases.
func (a *Adapter) Setup(settings vendor.Settings) ([]state.Update, writer.Sequence, error) {
	phases := settings.String(SettingPhases, DefaultPhases)
	count := vendor.PhaseCount(phases)
	if count == 0 {
		return nil, nil, fmt.Errorf("%w: phases %q", fault.ErrInvalidValue, phases)
	}
	return []state.Update{
		state.SetMin(state.MaxChargingCurrent, DefaultMinCurrent),
		state.SetMax(state.MaxChargingCurrent, DefaultMaxCurrent),
		state.Set(state.UsedPhases, codec.String(phases)),
		state.Set(state.PhaseCount, codec.Int(int64(count))),
	}, nil, nil
}

func (a *Adapter) Translate(readings []codec.RegisterValue, cur state.Reader) []state.Update {
	var out []state.Update
	get := func(name string) (int64, bool) {
		v, ok := vendor.Lookup(readings, name)
		return v.Int, ok
	}

	if cp, ok := get(regCPSignal); ok {
		out = append(out, state.Set(state.PluggedIn, codec.Bool(cp >= cpB)))
	}
	if n, ok := get(regMinCurrent); ok {
		out = append(out, state.SetMin(state.MaxChargingCurrent, float64(n)))
	}
	if n, ok := get(regMaxE3); ok {
		out = append(out, state.SetMax(state.MaxChargingCurrent, float64(n)))
	}

	// the setpoint only matters while charging is enabled; the wallbox
	// reports the current it actually uses in register 126
	enabled, okE := get(regChargingEnabled)
	setpoint, okS := get(regSetpoint)
	if okE && okS {
		on := enabled == 1 && setpoint > 0
		out = append(out, state.Set(state.Power, codec.Bool(on)))
		if used, ok := get(regCurrentE3); ok && on && used > 0 {
			out = append(out, state.Set(state.MaxChargingCurrent, codec.Int(used)))
		}
	}
	if okE {
		out = append(out, state.Set(regChargingEnabled, codec.Int(enabled)))
	}

	// charging is only visible as the charging duration advancing
	if d, ok := get(regChargingDuration); ok {
		var prev int64
		if v, ok := cur.Get(state.SessionTime); ok {
			prev = v.Int
		}
		out = append(out,
			state.Set(state.Charging, codec.Bool(d != prev)),
			state.Set(state.SessionTime, codec.Int(d)),
		)
	}
	return out
}

// AfterCycle re-asserts the held current when charging becomes enabled,
// e.g. after an RFID unlock, since a paused wallbox keeps setpoint 0.
func (a *Adapter) AfterCycle(readings []codec.RegisterValue, cur state.Reader) writer.Sequence {
	enabled, ok := vendor.Lookup(readings, regChargingEnabled)
	if !ok || enabled.Int != 1 {
		return nil
	}
	prev, ok := cur.Get(regChargingEnabled)
	if !ok || prev.Int == enabled.Int {
		return nil
	}
	held, ok := cur.Get(state.MaxChargingCurrent)
	if !ok {
		return nil
	}
	if sp, ok := vendor.Lookup(readings, regSetpoint); ok && sp.Int == held.Int {
		return nil
	}
	seq, err := writer.Build(registers, writer.Assign{Signal: regSetpoint, Value: held})
	if err != nil {
		return nil
	}
	return seq
}

// EncodePower writes enable and setpoint. With an RFID reader attached
// the enable register is not writable, so the setpoint carries the
// decision and is the reported outcome.
func (a *Adapter) EncodePower(on bool, cur state.Reader, _ vendor.ActionOptions) (vendor.Plan, error) {
	enable, setpoint := int64(0), int64(0)
	if on {
		enable, setpoint = 1, heldCurrent(cur)
	}
	seq, err := writer.Build(registers,
		writer.Assign{Signal: regChargingEnabled, Value: codec.Int(enable)},
		writer.Assign{Signal: regSetpoint, Value: codec.Int(setpoint)},
	)
	if err != nil {
		return vendor.Plan{}, err
	}
	return vendor.Plan{Signal: state.Power, Expected: codec.Bool(on), Steps: seq}, nil
}

// EncodeMaxCurrent writes the setpoint while power is on. While paused
// the value is only memorized and written on the next power on.
func (a *Adapter) EncodeMaxCurrent(amps float64, cur state.Reader) (vendor.Plan, error) {
	n := int64(math.Round(amps))
	plan := vendor.Plan{Signal: state.MaxChargingCurrent, Expected: codec.Int(n)}

	if p, ok := cur.Get(state.Power); !ok || !p.Bool {
		if n < 0 || n > math.MaxUint16 {
			return vendor.Plan{}, fmt.Errorf("%w: %d A", fault.ErrInvalidValue, n)
		}
		plan.Updates = []state.Update{state.Set(state.MaxChargingCurrent, codec.Int(n))}
		return plan, nil
	}

	seq, err := writer.Build(registers, writer.Assign{Signal: regSetpoint, Value: codec.Int(n)})
	if err != nil {
		return vendor.Plan{}, err
	}
	plan.Steps = seq
	return plan, nil
}

func heldCurrent(cur state.Reader) int64 {
	if cur != nil {
		if v, ok := cur.Get(state.MaxChargingCurrent); ok && v.Int > 0 {
			return v.Int
		}
	}
	return DefaultMinCurrent
}

// ---- discovery ----

var errNoMaster = errors.New("no modbus RTU master available; set one up with 57600 baud, 8 data bits, 1 stop bit, no parity")

// Discovery sweeps slaves 1..254 on every usable bus with a firmware read.
func (a *Adapter) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	return vendor.BusSweep{
		Identity: identitySignal,
		Result:   identify,
		NoMaster: errNoMaster,
	}.Method(deps)
}

func identify(d transport.Descriptor, fw codec.Value) (discovery.Result, bool) {
	return discovery.Result{
		Descriptor: d,
		Vendor:     Name,
		Model:      "Schrack CION",
		Firmware:   fw.Str,
	}, true
}
