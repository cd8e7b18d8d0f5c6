// internal/state/signals.go
package state

// Canonical signal names shared by every vendor adapter and the host.
const (
	Connected          = "connected"
	Charging           = "charging"
	PluggedIn          = "plugged_in"
	Power              = "power"
	MaxChargingCurrent = "max_charging_current"
	CurrentPower       = "current_power"
	CurrentPhaseA      = "current_phase_a"
	CurrentPhaseB      = "current_phase_b"
	CurrentPhaseC      = "current_phase_c"
	PowerPhaseA        = "power_phase_a"
	PowerPhaseB        = "power_phase_b"
	PowerPhaseC        = "power_phase_c"
	TotalEnergy        = "total_energy"
	SessionEnergy      = "session_energy"
	Error              = "error"
	PhaseCount         = "phase_count"
	UsedPhases         = "used_phases"
	FirmwareVersion    = "firmware_version"
	SessionTime        = "session_time"
	ChargePointState   = "charge_point_state"
)

// LiveSignals are energized values that go stale the moment a link drops.
var LiveSignals = []string{
	Charging,
	ChargePointState,
	CurrentPower,
	CurrentPhaseA, CurrentPhaseB, CurrentPhaseC,
	PowerPhaseA, PowerPhaseB, PowerPhaseC,
}
