package scheduler

// State is the scheduler's position in the read cycle.
type State int32

const (
	StateProvisioning State = iota
	StatePolling
	StateCycleComplete
	StateSleeping
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StatePolling:
		return "polling"
	case StateCycleComplete:
		return "cycle_complete"
	case StateSleeping:
		return "sleeping"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
