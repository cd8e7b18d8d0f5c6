// internal/vendors/mennekes/ecu.go
package mennekes

import (
	"context"
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

// ClassECU is the AMTRON with the ECU controller over Modbus TCP.
const ClassECU = "mennekes-amtron-ecu"

// MinECUFirmware is the first ECU firmware that accepts a HEMS current
// limit over Modbus.
const MinECUFirmware = "5.22"

const ocppCharging = 6

var ocppStates = map[uint16]string{
	0: "available",
	1: "occupied",
	2: "reserved",
	3: "unavailable",
	4: "faulted",
	5: "preparing",
	6: "charging",
	7: "suspended_evse",
	8: "suspended_ev",
	9: "finishing",
}

var ecuFirmware = codec.Signal{Name: regFirmware, FC: codec.FCHolding, Address: 100, Kind: codec.KindString, Length: 2}

var ecuReadSignals = []codec.Signal{
	ecuFirmware,
	{Name: regChargeState, FC: codec.FCHolding, Address: 104, Kind: codec.KindEnum, Enum: ocppStates},
	{Name: regErrorCode, FC: codec.FCHolding, Address: 105, Kind: codec.KindUint32},
	{Name: regCPSignal, FC: codec.FCHolding, Address: 122, Kind: codec.KindEnum, Enum: cpStates},
	{Name: regEnergyL1, FC: codec.FCHolding, Address: 200, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regEnergyL2, FC: codec.FCHolding, Address: 202, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regEnergyL3, FC: codec.FCHolding, Address: 204, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regPowerL1, FC: codec.FCHolding, Address: 206, Kind: codec.KindUint32},
	{Name: regPowerL2, FC: codec.FCHolding, Address: 208, Kind: codec.KindUint32},
	{Name: regPowerL3, FC: codec.FCHolding, Address: 210, Kind: codec.KindUint32},
	{Name: regCurrentL1, FC: codec.FCHolding, Address: 212, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regCurrentL2, FC: codec.FCHolding, Address: 214, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regCurrentL3, FC: codec.FCHolding, Address: 216, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionEnergy, FC: codec.FCHolding, Address: 705, Kind: codec.KindScaledU32, Scale: 1000},
	{Name: regSessionTime, FC: codec.FCHolding, Address: 709, Kind: codec.KindUint32},
	{Name: regMinCurrent, FC: codec.FCHolding, Address: 712, Kind: codec.KindUint16},
	{Name: regMaxCurrent, FC: codec.FCHolding, Address: 715, Kind: codec.KindUint16},
}

// the HEMS limit is write only; older firmware answers it with an exception
var ecuWriteSignals = []codec.Signal{
	{Name: regCurrentLimit, FC: codec.FCHolding, Address: 1000, Kind: codec.KindUint16},
}

var (
	ecuRegisters = codec.MustMap(append(append([]codec.Signal{}, ecuReadSignals...), ecuWriteSignals...)...)
	ecuPlan      = poller.Coalesce(ecuReadSignals)
)

// ECU drives AMTRON wallboxes with the ECU controller.
type ECU struct{}

func NewECU() *ECU { return &ECU{} }

func (a *ECU) Name() string                 { return Name }
func (a *ECU) Class() string                { return ClassECU }
func (a *ECU) Cadence() time.Duration       { return cadence }
func (a *ECU) Registers() *codec.Map        { return ecuRegisters }
func (a *ECU) ReadPlan() []poller.ReadBlock { return ecuPlan }
func (a *ECU) LiveSignals() []string        { return state.LiveSignals }

func (a *ECU) Quirks() []quirk.Rule {
	return []quirk.Rule{
		quirk.Above(regMinCurrent, DefaultMaxCurrent),
		quirk.Zero(regMaxCurrent),
	}
}

func (a *ECU) Setup(vendor.Settings) ([]state.Update, writer.Sequence, error) {
	return defaultBounds(), nil, nil
}

func (a *ECU) Translate(readings []codec.RegisterValue, _ state.Reader) []state.Update {
	out := common(readings, func(v codec.Value) bool { return v.Int == ocppCharging })
	if v, ok := vendor.Lookup(readings, regFirmware); ok {
		out = append(out, state.Set(state.FirmwareVersion, v))
	}
	return out
}

func (a *ECU) AfterCycle([]codec.RegisterValue, state.Reader) writer.Sequence { return nil }

func (a *ECU) EncodePower(on bool, cur state.Reader, _ vendor.ActionOptions) (vendor.Plan, error) {
	if err := ecuControllable(cur); err != nil {
		return vendor.Plan{}, err
	}
	return powerPlan(ecuRegisters, on, cur)
}

func (a *ECU) EncodeMaxCurrent(amps float64, cur state.Reader) (vendor.Plan, error) {
	if err := ecuControllable(cur); err != nil {
		return vendor.Plan{}, err
	}
	return currentPlan(ecuRegisters, amps, cur)
}

// ecuControllable refuses control until a firmware of at least
// MinECUFirmware has been read.
func ecuControllable(cur state.Reader) error {
	var fw codec.Value
	ok := false
	if cur != nil {
		fw, ok = cur.Get(state.FirmwareVersion)
	}
	if !ok || fw.Str == "" {
		return fmt.Errorf("%w: firmware version not read yet", fault.ErrHardwareUnavailable)
	}
	good, err := versionAtLeast(fw.Str, MinECUFirmware)
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrHardwareUnavailable, err)
	}
	if !good {
		return fmt.Errorf("%w: firmware %s is too old, %s or newer is required", fault.ErrHardwareUnavailable, fw.Str, MinECUFirmware)
	}
	return nil
}

// Discovery browses mDNS and confirms each host with a firmware read.
func (a *ECU) Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	return mdnsDiscovery(deps, "AMTRON ECU", func(ctx context.Context, c transport.Conn) (discovery.Result, bool) {
		words, err := c.ReadHoldingRegisters(ctx, ecuFirmware.Address, ecuFirmware.Words())
		if err != nil {
			return discovery.Result{}, false
		}
		fw, err := codec.Decode(ecuFirmware, words)
		if err != nil || fw.Str == "" {
			return discovery.Result{}, false
		}
		if _, err := parseVersion(fw.Str); err != nil {
			return discovery.Result{}, false
		}
		return discovery.Result{Firmware: fw.Str}, true
	})
}
