// internal/vendors/webasto/webasto.go
package webasto

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"

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
	Name  = "webasto"
	Class = "webasto-next"

	DefaultPort   = 502
	DefaultUnitID = 255

	cadence = time.Second
)

// Register names.
const (
	regChargerState   = "charger_state"
	regChargeState    = "charge_state"
	regCableState     = "cable_state"
	regEVSEError      = "evse_error"
	regCurrentL1      = "current_l1"
	regCurrentL2      = "current_l2"
	regCurrentL3      = "current_l3"
	regPowerTotal     = "active_power_total"
	regPowerL1        = "active_power_l1"
	regPowerL2        = "active_power_l2"
	regPowerL3        = "active_power_l3"
	regEnergy         = "energy_meter"
	regMaxCurrent     = "max_current"
	regMinCurrent     = "min_current"
	regMaxStation     = "max_current_station"
	regMaxCable       = "max_current_cable"
	regMaxEV          = "max_current_ev"
	regSessionEnergy  = "session_energy"
	regChargingTime   = "charging_time"
	regSafeCurrent    = "safe_current"
	regComTimeout     = "communication_timeout"
	regChargeCurrent  = "charge_current"
	regChargingAction = "charging_action"
	regLifeBit        = "life_bit"
)

// Settings keys.
const (
	SettingSafeCurrent = "safe_current"
	SettingComTimeout  = "communication_timeout"
)

// Charger states.
const (
	chargerNoVehicle        = 0
	chargerAttachedNoPermit = 1
	chargerCharging         = 3
	chargerChargingPaused   = 4
)

// Charge states.
const (
	chargeIdle     = 0
	chargeCharging = 1
)

// Charging actions.
const (
	actionNone          = 0
	actionStartSession  = 1
	actionCancelSession = 2
)

var chargerStates = map[uint16]string{
	0: "no_vehicle",
	1: "vehicle_attached_no_permission",
	2: "charging_authorized",
	3: "charging",
	4: "charging_paused",
	5: "charge_successful",
	6: "charging_stopped_by_user",
	7: "charging_error",
	8: "charging_station_reserved",
	9: "user_not_authorized",
}

var readSignals = []codec.Signal{
	{Name: regChargerState, FC: codec.FCInput, Address: 1000, Kind: codec.KindEnum, Enum: chargerStates},
	{Name: regChargeState, FC: codec.FCInput, Address: 1001, Kind: codec.KindEnum, Enum: map[uint16]string{0: "idle", 1: "charging"}},
	{Name: regCableState, FC: codec.FCInput, Address: 1004, Kind: codec.KindEnum, Enum: map[uint16]string{
		0: "no_cable", 1: "cable_no_vehicle", 2: "cable_vehicle", 3: "cable_locked",
	}},
	{Name: regEVSEError, FC: codec.FCInput, Address: 1006, Kind: codec.KindUint16},
	{Name: regCurrentL1, FC: codec.FCInput, Address: 1008, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL2, FC: codec.FCInput, Address: 1010, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL3, FC: codec.FCInput, Address: 1012, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regPowerTotal, FC: codec.FCInput, Address: 1020, Kind: codec.KindUint32},
	{Name: regPowerL1, FC: codec.FCInput, Address: 1024, Kind: codec.KindUint32},
	{Name: regPowerL2, FC: codec.FCInput, Address: 1028, Kind: codec.KindUint32},
	{Name: regPowerL3, FC: codec.FCInput, Address: 1032, Kind: codec.KindUint32},
	{Name: regEnergy, FC: codec.FCInput, Address: 1036, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regMaxCurrent, FC: codec.FCInput, Address: 1100, Kind: codec.KindUint16},
	{Name: regMinCurrent, FC: codec.FCInput, Address: 1102, Kind: codec.KindUint16},
	{Name: regMaxStation, FC: codec.FCInput, Address: 1104, Kind: codec.KindUint16},
	{Name: regMaxCable, FC: codec.FCInput, Address: 1106, Kind: codec.KindUint16},
	{Name: regMaxEV, FC: codec.FCInput, Address: 1108, Kind: codec.KindUint16},
	{Name: regSessionEnergy, FC: codec.FCInput, Address: 1502, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regChargingTime, FC: codec.FCInput, Address: 1508, Kind: codec.KindUint32},
	{Name: regSafeCurrent, FC: codec.FCHolding, Address: 2000, Kind: codec.KindUint16},
	{Name: regComTimeout, FC: codec.FCHolding, Address: 2002, Kind: codec.KindUint16},
	{Name: regLifeBit, FC: codec.FCHolding, Address: 6000, Kind: codec.KindUint16},
}

var writeSignals = []codec.Signal{
	{Name: regChargeCurrent, FC: codec.FCHolding, Address: 5004, Kind: codec.KindUint16},
	{Name: regChargingAction, FC: codec.FCHolding, Address: 5006, Kind: codec.KindEnum, Enum: map[uint16]string{
		actionNone: "no_action", actionStartSession: "start_session", actionCancelSession: "cancel_session",
	}},
}

var (
	registers = codec.MustMap(append(append([]codec.Signal{}, readSignals...), writeSignals...)...)
	readPlan  = poller.Coalesce(readSignals)
)

// Adapter drives Webasto Next wallboxes over Modbus TCP.
type Adapter struct {
	faults *FaultTable
}

// New returns the adapter with the embedded fault table.
func New() *Adapter { return &Adapter{faults: defaultFaults} }

// WithFaults returns an adapter using a custom fault table.
func WithFaults(t *FaultTable) *Adapter { return &Adapter{faults: t} }

func (a *Adapter) Name() string                 { return Name }
func (a *Adapter) Class() string                { return Class }
func (a *Adapter) Cadence() time.Duration       { return cadence }
func (a *Adapter) Registers() *codec.Map        { return registers }
func (a *Adapter) ReadPlan() []poller.ReadBlock { return readPlan }
func (a *Adapter) LiveSignals() []string        { return state.LiveSignals }

func (a *Adapter) Quirks() []quirk.Rule {
	return []quirk.Rule{
		// a 32 A station never reports a higher minimum
		quirk.Above(regMinCurrent, 32),
	}
}

// Setup writes the failsafe settings that are present.
func (a *Adapter) Setup(settings vendor.Settings) ([]state.Update, writer.Sequence, error) {
	var assigns []writer.Assign

	if v, ok, err := settings.Int(SettingSafeCurrent); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", fault.ErrInvalidValue, err)
	} else if ok {
		if v < 0 || v > 32 {
			return nil, nil, fmt.Errorf("%w: safe current %d outside 0..32", fault.ErrInvalidValue, v)
		}
		assigns = append(assigns, writer.Assign{Signal: regSafeCurrent, Value: codec.Int(int64(v))})
	}
	if v, ok, err := settings.Int(SettingComTimeout); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", fault.ErrInvalidValue, err)
	} else if ok {
		assigns = append(assigns, writer.Assign{Signal: regComTimeout, Value: codec.Int(int64(v))})
	}

	seq, err := writer.Build(registers, assigns...)
	if err != nil {
		return nil, nil, err
	}
	return nil, seq, nil
}

func (a *Adapter) Translate(readings []codec.RegisterValue, cur state.Reader) []state.Update {
	var out []state.Update
	get := func(name string) (codec.Value, bool) { return vendor.Lookup(readings, name) }
	num := func(name string) (float64, bool) {
		v, ok := get(name)
		if !ok {
			return 0, false
		}
		return v.Number()
	}

	// charging and plugged_in are derived from two registers; emit once
	charging, hasCharging := cur.Get(state.Charging)
	var plugged codec.Value
	hasPlugged := false

	if v, ok := get(regChargeState); ok && v.Known {
		switch v.Int {
		case chargeIdle:
			charging, hasCharging = codec.Bool(false), true
		case chargeCharging:
			charging, hasCharging = codec.Bool(true), true
		}
	}
	if v, ok := get(regChargerState); ok {
		out = append(out, state.Set(regChargerState, v))
		if v.Known {
			switch v.Int {
			case chargerNoVehicle:
				charging, hasCharging = codec.Bool(false), true
				plugged, hasPlugged = codec.Bool(false), true
			case chargerAttachedNoPermit, chargerChargingPaused:
				plugged, hasPlugged = codec.Bool(true), true
			case chargerCharging:
				charging, hasCharging = codec.Bool(true), true
				plugged, hasPlugged = codec.Bool(true), true
			}
		}
	}
	if hasCharging {
		out = append(out, state.Set(state.Charging, charging))
	}
	if hasPlugged {
		out = append(out, state.Set(state.PluggedIn, plugged))
	}
	if v, ok := get(regCableState); ok {
		out = append(out, state.Set(regCableState, v))
	}

	for _, m := range []struct{ reg, sig string }{
		{regCurrentL1, state.CurrentPhaseA},
		{regCurrentL2, state.CurrentPhaseB},
		{regCurrentL3, state.CurrentPhaseC},
		{regPowerL1, state.PowerPhaseA},
		{regPowerL2, state.PowerPhaseB},
		{regPowerL3, state.PowerPhaseC},
		{regPowerTotal, state.CurrentPower},
		{regEnergy, state.TotalEnergy},
		{regSessionEnergy, state.SessionEnergy},
	} {
		if n, ok := num(m.reg); ok {
			out = append(out, state.Set(m.sig, codec.Float(n)))
		}
	}

	// phase power is noisy on idle phases; use the currents
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

	if n, ok := num(regMinCurrent); ok {
		out = append(out, state.SetMin(state.MaxChargingCurrent, n), state.Set(regMinCurrent, codec.Int(int64(n))))
	}
	if n, ok := num(regMaxCurrent); ok {
		out = append(out, state.SetMax(state.MaxChargingCurrent, n), state.Set(regMaxCurrent, codec.Int(int64(n))))
	}
	for _, reg := range []string{regMaxStation, regMaxCable, regMaxEV, regSafeCurrent, regComTimeout} {
		if v, ok := get(reg); ok {
			out = append(out, state.Set(reg, v))
		}
	}

	if v, ok := get(regEVSEError); ok {
		out = append(out, state.Set(state.Error, codec.String(a.faults.Text(uint16(v.Int)))))
	}
	if v, ok := get(regChargingTime); ok {
		out = append(out, state.Set(state.SessionTime, v))
	}
	return out
}

// AfterCycle resets the life bit watchdog once the wallbox cleared it.
func (a *Adapter) AfterCycle(readings []codec.RegisterValue, _ state.Reader) writer.Sequence {
	v, ok := vendor.Lookup(readings, regLifeBit)
	if !ok || v.Int != 0 {
		return nil
	}
	return writer.MustBuild(registers, writer.Assign{Signal: regLifeBit, Value: codec.Int(1)})
}

// EncodePower starts or cancels a session. A user-triggered start first
// clears the pending action so the wallbox opens a new session.
func (a *Adapter) EncodePower(on bool, _ state.Reader, opts vendor.ActionOptions) (vendor.Plan, error) {
	var codes []uint16
	switch {
	case on && opts.TriggeredByUser:
		codes = []uint16{actionNone, actionStartSession}
	case on:
		codes = []uint16{actionStartSession}
	default:
		codes = []uint16{actionCancelSession}
	}

	assigns := make([]writer.Assign, 0, len(codes))
	for _, c := range codes {
		assigns = append(assigns, writer.Assign{Signal: regChargingAction, Value: codec.Int(int64(c))})
	}
	seq, err := writer.Build(registers, assigns...)
	if err != nil {
		return vendor.Plan{}, err
	}
	return vendor.Plan{Signal: state.Power, Expected: codec.Bool(on), Steps: seq}, nil
}

func (a *Adapter) EncodeMaxCurrent(amps float64, _ state.Reader) (vendor.Plan, error) {
	n := int64(math.Round(amps))
	seq, err := writer.Build(registers, writer.Assign{Signal: regChargeCurrent, Value: codec.Int(n)})
	if err != nil {
		return vendor.Plan{}, err
	}
	return vendor.Plan{Signal: state.MaxChargingCurrent, Expected: codec.Int(n), Steps: seq}, nil
}

// ---- discovery ----

// Discovery browses mDNS for Webasto hosts and confirms each one with
// a charger state read over Modbus TCP.
func (a *Adapter) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &discovery.MDNS{
		Service: "_http._tcp",
		Window:  deps.Window,
		Build:   buildCandidate,
		Verify: func(ctx context.Context, r discovery.Result) (discovery.Result, bool) {
			return verify(ctx, deps.Dialer, r, codec.FCInput, log)
		},
		Log: log,
	}
}

func buildCandidate(e *zeroconf.ServiceEntry) (discovery.Result, bool) {
	return candidate(e, "Webasto Next")
}

func candidate(e *zeroconf.ServiceEntry, model string) (discovery.Result, bool) {
	if !strings.Contains(strings.ToLower(e.HostName+" "+e.Instance), Name) {
		return discovery.Result{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		return discovery.Result{}, false
	}
	return discovery.Result{
		Descriptor: transport.Descriptor{
			Kind:   transport.KindTCP,
			Host:   host,
			Port:   DefaultPort,
			UnitID: DefaultUnitID,
		},
		Vendor: Name,
		Model:  model,
	}, true
}

// verify reads the charger state, an input register on the Next and a
// holding register on the Live.
func verify(ctx context.Context, d transport.Dialer, r discovery.Result, fc uint8, log *zap.Logger) (discovery.Result, bool) {
	if d == nil {
		return r, true
	}
	conn, err := d.Dial(r.Descriptor)
	if err != nil {
		return r, false
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		log.Debug("webasto candidate refused connection", zap.Stringer("candidate", r.Descriptor), zap.Error(err))
		return r, false
	}
	read := conn.ReadInputRegisters
	if fc == codec.FCHolding {
		read = conn.ReadHoldingRegisters
	}
	words, err := read(ctx, 1000, 1)
	if err != nil || len(words) != 1 {
		return r, false
	}
	if _, known := chargerStates[words[0]]; !known {
		return r, false
	}
	return r, true
}
