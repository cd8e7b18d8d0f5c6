// internal/vendors/mennekes/compact20.go
package mennekes

import (
	"fmt"
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

// ClassCompact20 is the AMTRON Compact 2.0 on a shared Modbus RTU bus.
const ClassCompact20 = "mennekes-amtron-compact20"

// SettingPhaseCount requests 1 or 3 phase charging at setup.
const SettingPhaseCount = "phase_count"

var compact20Identity = codec.Signal{Name: regFirmware, FC: codec.FCHolding, Address: 256, Kind: codec.KindString, Length: 4}

var compact20ReadSignals = []codec.Signal{
	{Name: regCPSignal, FC: codec.FCHolding, Address: 512, Kind: codec.KindEnum, Enum: cpStates},
	{Name: regChargeState, FC: codec.FCHolding, Address: 513, Kind: codec.KindEnum, Enum: chargeStates},
	{Name: regErrorCode, FC: codec.FCHolding, Address: 514, Kind: codec.KindUint16},
	{Name: regCurrentL1, FC: codec.FCHolding, Address: 515, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL2, FC: codec.FCHolding, Address: 516, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL3, FC: codec.FCHolding, Address: 517, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regPowerTotal, FC: codec.FCHolding, Address: 518, Kind: codec.KindUint32},
	{Name: regEnergyTotal, FC: codec.FCHolding, Address: 520, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionEnergy, FC: codec.FCHolding, Address: 522, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionTime, FC: codec.FCHolding, Address: 524, Kind: codec.KindUint32},
	{Name: regMinCurrent, FC: codec.FCHolding, Address: 526, Kind: codec.KindUint16},
	{Name: regMaxCurrent, FC: codec.FCHolding, Address: 527, Kind: codec.KindUint16},
	{Name: regActivePhases, FC: codec.FCHolding, Address: 528, Kind: codec.KindUint16},
}

var compact20WriteSignals = []codec.Signal{
	{Name: regCurrentLimit, FC: codec.FCHolding, Address: 768, Kind: codec.KindUint16},
	{Name: regPhaseRequest, FC: codec.FCHolding, Address: 769, Kind: codec.KindUint16},
}

var (
	compact20Registers = codec.MustMap(append(append(append([]codec.Signal{}, compact20ReadSignals...), compact20WriteSignals...), compact20Identity)...)
	compact20Plan      = poller.Coalesce(compact20ReadSignals)
)

// Compact20 drives the AMTRON Compact 2.0.
type Compact20 struct{}

func NewCompact20() *Compact20 { return &Compact20{} }

func (a *Compact20) Name() string                 { return Name }
func (a *Compact20) Class() string                { return ClassCompact20 }
func (a *Compact20) Cadence() time.Duration       { return 2 * time.Second }
func (a *Compact20) Registers() *codec.Map        { return compact20Registers }
func (a *Compact20) ReadPlan() []poller.ReadBlock { return compact20Plan }
func (a *Compact20) LiveSignals() []string        { return state.LiveSignals }

func (a *Compact20) Quirks() []quirk.Rule {
	return []quirk.Rule{
		quirk.OutsideRange(regCPSignal, cpA, cpF),
		// reads 0 until a vehicle negotiated a limit
		quirk.Zero(regMaxCurrent),
		quirk.OutsideRange(regActivePhases, 1, 3),
	}
}

// Setup applies the default bounds and the configured phase count.
func (a *Compact20) Setup(settings vendor.Settings) ([]state.Update, writer.Sequence, error) {
	updates := defaultBounds()
	n, ok, err := settings.Int(SettingPhaseCount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", fault.ErrInvalidValue, err)
	}
	if !ok {
		return updates, nil, nil
	}
	if n != 1 && n != 3 {
		return nil, nil, fmt.Errorf("%w: phase count %d, want 1 or 3", fault.ErrInvalidValue, n)
	}
	seq, err := writer.Build(compact20Registers, writer.Assign{Signal: regPhaseRequest, Value: codec.Int(int64(n))})
	if err != nil {
		return nil, nil, err
	}
	updates = append(updates, phaseUpdates(int64(n))...)
	return updates, seq, nil
}

// Translate prefers the phase count the wallbox switched to over the
// one derived from currents.
func (a *Compact20) Translate(readings []codec.RegisterValue, _ state.Reader) []state.Update {
	out := common(readings, func(v codec.Value) bool { return v.Int == chargeCharging })
	if v, ok := vendor.Lookup(readings, regActivePhases); ok && (v.Int == 1 || v.Int == 3) {
		out = append(out, phaseUpdates(v.Int)...)
	}
	return out
}

func phaseUpdates(n int64) []state.Update {
	used := "A"
	if n == 3 {
		used = "A, B, C"
	}
	return []state.Update{
		state.Set(state.UsedPhases, codec.String(used)),
		state.Set(state.PhaseCount, codec.Int(n)),
	}
}

func (a *Compact20) AfterCycle([]codec.RegisterValue, state.Reader) writer.Sequence { return nil }

func (a *Compact20) EncodePower(on bool, cur state.Reader, _ vendor.ActionOptions) (vendor.Plan, error) {
	return powerPlan(compact20Registers, on, cur)
}

func (a *Compact20) EncodeMaxCurrent(amps float64, cur state.Reader) (vendor.Plan, error) {
	return currentPlan(compact20Registers, amps, cur)
}

// Discovery sweeps every usable bus with a firmware read.
func (a *Compact20) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	return vendor.BusSweep{
		Identity: compact20Identity,
		Result: func(d transport.Descriptor, fw codec.Value) (discovery.Result, bool) {
			if fw.Str == "" {
				return discovery.Result{}, false
			}
			return discovery.Result{Descriptor: d, Vendor: Name, Model: "AMTRON Compact 2.0", Firmware: fw.Str}, true
		},
	}.Method(deps)
}
