package pipeline

import "mediatrigger/internal/notify"

// State is a step of the pipeline. Every state but Publishing runs strictly
// after the previous one has finished.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateValidating  State = "validating"
	StateProbing     State = "probing"
	StateTranscoding State = "transcoding"
	StatePublishing  State = "publishing"
	StateCleaning    State = "cleaning"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var statusByState = map[State]notify.Status{
	StateFetching:    notify.StatusFetching,
	StateValidating:  notify.StatusValidating,
	StateProbing:     notify.StatusProbing,
	StateTranscoding: notify.StatusTranscoding,
	StatePublishing:  notify.StatusPublishing,
	StateCleaning:    notify.StatusCleaning,
	StateDone:        notify.StatusDone,
	StateFailed:      notify.StatusFailed,
}

// Status maps the state onto the notification vocabulary.
func (s State) Status() notify.Status {
	return statusByState[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
