package gateway

// State is the phase of an invocation.
type State uint8

const (
	StateIdle State = iota
	StateEnvironmentBuilt
	StateSpawned
	StateStreamingBody
	StateAwaitingOutput
	StateCompleted
	StateFailed
	StateTimedOut
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateEnvironmentBuilt: "environment-built",
	StateSpawned:          "spawned",
	StateStreamingBody:    "streaming-body",
	StateAwaitingOutput:   "awaiting-output",
	StateCompleted:        "completed",
	StateFailed:           "failed",
	StateTimedOut:         "timed-out",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateCompleted
}
