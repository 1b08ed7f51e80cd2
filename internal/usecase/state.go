package usecase

type State string

const (
	StateIdle             State = "idle"
	StateValidatingConfig State = "validating_config"
	StateCreating         State = "creating"
	StateRestoring        State = "restoring"
	StateCleaningUp       State = "cleaning_up"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// State reports where the last or current operation is.
func (uc *Backup) State() State {
	uc.stateMu.RLock()
	defer uc.stateMu.RUnlock()
	return uc.state
}

func (uc *Backup) transition(next State) {
	uc.stateMu.Lock()
	prev := uc.state
	uc.state = next
	uc.stateMu.Unlock()
	uc.logger.Debugf("State %s -> %s", prev, next)
}
