// internal/vendors/mennekes/hcc3.go
package mennekes

import (
	"context"
	"time"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/writer"
)

// ClassHCC3 is the AMTRON with the HCC3 controller over Modbus TCP.
const ClassHCC3 = "mennekes-amtron-hcc3"

var hcc3ReadSignals = []codec.Signal{
	{Name: regCPSignal, FC: codec.FCInput, Address: 768, Kind: codec.KindEnum, Enum: cpStates},
	{Name: regChargeState, FC: codec.FCInput, Address: 769, Kind: codec.KindEnum, Enum: chargeStates},
	{Name: regErrorCode, FC: codec.FCInput, Address: 770, Kind: codec.KindUint16},
	{Name: regCurrentL1, FC: codec.FCInput, Address: 771, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL2, FC: codec.FCInput, Address: 772, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regCurrentL3, FC: codec.FCInput, Address: 773, Kind: codec.KindScaledU16, Scale: 1000},
	{Name: regPowerTotal, FC: codec.FCInput, Address: 774, Kind: codec.KindUint32},
	{Name: regEnergyTotal, FC: codec.FCInput, Address: 776, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionEnergy, FC: codec.FCInput, Address: 778, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionTime, FC: codec.FCInput, Address: 780, Kind: codec.KindUint32},
	{Name: regMinCurrent, FC: codec.FCInput, Address: 782, Kind: codec.KindUint16},
	{Name: regMaxCurrent, FC: codec.FCInput, Address: 783, Kind: codec.KindUint16},
}

var hcc3WriteSignals = []codec.Signal{
	{Name: regCurrentLimit, FC: codec.FCHolding, Address: 1024, Kind: codec.KindUint16},
}

var (
	hcc3Registers = codec.MustMap(append(append([]codec.Signal{}, hcc3ReadSignals...), hcc3WriteSignals...)...)
	hcc3Plan      = poller.Coalesce(hcc3ReadSignals)
)

// HCC3 drives AMTRON wallboxes with the HCC3 controller.
type HCC3 struct{}

func NewHCC3() *HCC3 { return &HCC3{} }

func (a *HCC3) Name() string                 { return Name }
func (a *HCC3) Class() string                { return ClassHCC3 }
func (a *HCC3) Cadence() time.Duration       { return cadence }
func (a *HCC3) Registers() *codec.Map        { return hcc3Registers }
func (a *HCC3) ReadPlan() []poller.ReadBlock { return hcc3Plan }
func (a *HCC3) LiveSignals() []string        { return state.LiveSignals }

func (a *HCC3) Quirks() []quirk.Rule {
	return []quirk.Rule{
		quirk.OutsideRange(regCPSignal, cpA, cpF),
		quirk.Above(regMinCurrent, DefaultMaxCurrent),
	}
}

func (a *HCC3) Setup(vendor.Settings) ([]state.Update, writer.Sequence, error) {
	return defaultBounds(), nil, nil
}

func (a *HCC3) Translate(readings []codec.RegisterValue, _ state.Reader) []state.Update {
	return common(readings, func(v codec.Value) bool { return v.Int == chargeCharging })
}

func (a *HCC3) AfterCycle([]codec.RegisterValue, state.Reader) writer.Sequence { return nil }

func (a *HCC3) EncodePower(on bool, cur state.Reader, _ vendor.ActionOptions) (vendor.Plan, error) {
	return powerPlan(hcc3Registers, on, cur)
}

func (a *HCC3) EncodeMaxCurrent(amps float64, cur state.Reader) (vendor.Plan, error) {
	return currentPlan(hcc3Registers, amps, cur)
}

// Discovery browses mDNS and confirms each host with a CP state read.
func (a *HCC3) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	return mdnsDiscovery(deps, "AMTRON HCC3", func(ctx context.Context, c transport.Conn) (discovery.Result, bool) {
		words, err := c.ReadInputRegisters(ctx, 768, 1)
		if err != nil || len(words) != 1 {
			return discovery.Result{}, false
		}
		_, known := cpStates[words[0]]
		return discovery.Result{}, known
	})
}
