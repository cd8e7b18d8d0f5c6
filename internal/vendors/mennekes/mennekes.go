// internal/vendors/mennekes/mennekes.go
package mennekes

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/writer"
)

const (
	Name = "mennekes"

	DefaultPort   = 502
	DefaultUnitID = 255

	DefaultMinCurrent = 6
	DefaultMaxCurrent = 32

	cadence = time.Second
)

// Register names shared by the AMTRON families.
const (
	regFirmware      = "firmware_version"
	regCPSignal      = "cp_signal_state"
	regChargeState   = "charge_state"
	regErrorCode     = "error_code"
	regCurrentL1     = "current_l1"
	regCurrentL2     = "current_l2"
	regCurrentL3     = "current_l3"
	regPowerL1       = "power_l1"
	regPowerL2       = "power_l2"
	regPowerL3       = "power_l3"
	regPowerTotal    = "power_total"
	regEnergyL1      = "energy_l1"
	regEnergyL2      = "energy_l2"
	regEnergyL3      = "energy_l3"
	regEnergyTotal   = "energy_total"
	regSessionEnergy = "session_energy"
	regSessionTime   = "session_duration"
	regMinCurrent    = "min_current"
	regMaxCurrent    = "max_current"
	regActivePhases  = "active_phases"
	regCurrentLimit  = "current_limit"
	regPhaseRequest  = "requested_phases"
)

// CP signal states after IEC 61851. B to D means a vehicle is attached.
const (
	cpA = 1
	cpB = 2
	cpD = 4
	cpF = 6
)

var cpStates = map[uint16]string{
	1: "A", 2: "B", 3: "C", 4: "D", 5: "E", 6: "F",
}

// Charge states of the HCC3 and Compact 2.0 controllers.
const chargeCharging = 3

var chargeStates = map[uint16]string{
	0: "idle",
	1: "authorizing",
	2: "waiting_for_vehicle",
	3: "charging",
	4: "paused",
	5: "finished",
	6: "error",
}

// ---- translation ----

// common maps the readings every AMTRON reports the same way.
func common(readings []codec.RegisterValue, charging func(codec.Value) bool) []state.Update {
	var out []state.Update
	get := func(name string) (codec.Value, bool) { return vendor.Lookup(readings, name) }
	num := func(name string) (float64, bool) {
		v, ok := get(name)
		if !ok {
			return 0, false
		}
		return v.Number()
	}

	if v, ok := get(regCPSignal); ok {
		out = append(out, state.Set(regCPSignal, v))
		if v.Known {
			out = append(out, state.Set(state.PluggedIn, codec.Bool(v.Int >= cpB && v.Int <= cpD)))
		}
	}
	if v, ok := get(regChargeState); ok {
		out = append(out, state.Set(state.ChargePointState, v))
		if v.Known {
			out = append(out, state.Set(state.Charging, codec.Bool(charging(v))))
		}
	}
	if v, ok := get(regErrorCode); ok {
		out = append(out, state.Set(state.Error, codec.String(errorText(v.Int))))
	}

	for _, m := range []struct{ reg, sig string }{
		{regCurrentL1, state.CurrentPhaseA},
		{regCurrentL2, state.CurrentPhaseB},
		{regCurrentL3, state.CurrentPhaseC},
		{regPowerL1, state.PowerPhaseA},
		{regPowerL2, state.PowerPhaseB},
		{regPowerL3, state.PowerPhaseC},
		{regPowerTotal, state.CurrentPower},
		{regEnergyTotal, state.TotalEnergy},
		{regSessionEnergy, state.SessionEnergy},
	} {
		if n, ok := num(m.reg); ok {
			out = append(out, state.Set(m.sig, codec.Float(n)))
		}
	}

	// the ECU has no total registers, only per phase
	if _, ok := get(regPowerTotal); !ok {
		if sum, ok := sum3(num, regPowerL1, regPowerL2, regPowerL3); ok {
			out = append(out, state.Set(state.CurrentPower, codec.Float(sum)))
		}
	}
	if _, ok := get(regEnergyTotal); !ok {
		if sum, ok := sum3(num, regEnergyL1, regEnergyL2, regEnergyL3); ok {
			out = append(out, state.Set(state.TotalEnergy, codec.Float(sum)))
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

	if n, ok := num(regMinCurrent); ok {
		out = append(out, state.SetMin(state.MaxChargingCurrent, n))
	}
	if n, ok := num(regMaxCurrent); ok {
		out = append(out, state.SetMax(state.MaxChargingCurrent, n))
	}
	if v, ok := get(regSessionTime); ok {
		out = append(out, state.Set(state.SessionTime, v))
	}
	return out
}

func sum3(num func(string) (float64, bool), a, b, c string) (float64, bool) {
	x, okA := num(a)
	y, okB := num(b)
	z, okC := num(c)
	if !okA || !okB || !okC {
		return 0, false
	}
	return x + y + z, true
}

func errorText(code int64) string {
	if code == 0 {
		return ""
	}
	return fmt.Sprintf("Error code 0x%X", code)
}

// ---- control ----

// powerPlan writes the held current to charge and 0 to pause.
func powerPlan(regs *codec.Map, on bool, cur state.Reader) (vendor.Plan, error) {
	amps := int64(0)
	if on {
		amps = heldCurrent(cur)
	}
	seq, err := writer.Build(regs, writer.Assign{Signal: regCurrentLimit, Value: codec.Int(amps)})
	if err != nil {
		return vendor.Plan{}, err
	}
	return vendor.Plan{Signal: state.Power, Expected: codec.Bool(on), Steps: seq}, nil
}

// currentPlan writes the limit while power is on. While paused the
// value is only held, since any limit above 0 resumes charging.
func currentPlan(regs *codec.Map, amps float64, cur state.Reader) (vendor.Plan, error) {
	n := int64(math.Round(amps))
	if n < 0 || n > math.MaxUint16 {
		return vendor.Plan{}, fmt.Errorf("%w: %d A", fault.ErrInvalidValue, n)
	}
	plan := vendor.Plan{Signal: state.MaxChargingCurrent, Expected: codec.Int(n)}

	if !powered(cur) {
		plan.Updates = []state.Update{state.Set(state.MaxChargingCurrent, codec.Int(n))}
		return plan, nil
	}

	seq, err := writer.Build(regs, writer.Assign{Signal: regCurrentLimit, Value: codec.Int(n)})
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

func heldCurrent(cur state.Reader) int64 {
	if cur != nil {
		if v, ok := cur.Get(state.MaxChargingCurrent); ok && v.Int > 0 {
			return v.Int
		}
	}
	return DefaultMinCurrent
}

func defaultBounds() []state.Update {
	return []state.Update{
		state.SetMin(state.MaxChargingCurrent, DefaultMinCurrent),
		state.SetMax(state.MaxChargingCurrent, DefaultMaxCurrent),
	}
}

// ---- firmware ----

// versionAtLeast compares dotted numeric versions like "5.22".
func versionAtLeast(have, want string) (bool, error) {
	h, err := parseVersion(have)
	if err != nil {
		return false, err
	}
	w, err := parseVersion(want)
	if err != nil {
		return false, err
	}
	for i := 0; i < len(h) || i < len(w); i++ {
		var a, b int
		if i < len(h) {
			a = h[i]
		}
		if i < len(w) {
			b = w[i]
		}
		if a != b {
			return a > b, nil
		}
	}
	return true, nil
}

func parseVersion(v string) ([]int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", v, err)
		}
		out[i] = n
	}
	return out, nil
}

// ---- discovery ----

// mdnsDiscovery browses mDNS for AMTRON hosts and keeps those passing
// check.
func mdnsDiscovery(deps vendor.DiscoveryDeps, model string, check func(ctx context.Context, c transport.Conn) (discovery.Result, bool)) discovery.Method {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &discovery.MDNS{
		Service: "_http._tcp",
		Window:  deps.Window,
		Build:   func(e *zeroconf.ServiceEntry) (discovery.Result, bool) { return candidate(e, model) },
		Verify: func(ctx context.Context, r discovery.Result) (discovery.Result, bool) {
			return verify(ctx, deps.Dialer, r, check, log)
		},
		Log: log,
	}
}

func candidate(e *zeroconf.ServiceEntry, model string) (discovery.Result, bool) {
	id := strings.ToLower(e.HostName + " " + e.Instance)
	if !strings.Contains(id, Name) && !strings.Contains(id, "amtron") {
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
		Descriptor: transport.Descriptor{Kind: transport.KindTCP, Host: host, Port: DefaultPort, UnitID: DefaultUnitID},
		Vendor:     Name,
		Model:      model,
	}, true
}

func verify(ctx context.Context, d transport.Dialer, r discovery.Result, check func(context.Context, transport.Conn) (discovery.Result, bool), log *zap.Logger) (discovery.Result, bool) {
	if d == nil {
		return r, true
	}
	conn, err := d.Dial(r.Descriptor)
	if err != nil {
		return r, false
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		log.Debug("mennekes candidate refused connection", zap.Stringer("candidate", r.Descriptor), zap.Error(err))
		return r, false
	}
	found, ok := check(ctx, conn)
	if !ok {
		return r, false
	}
	if found.Firmware != "" {
		r.Firmware = found.Firmware
	}
	return r, true
}
