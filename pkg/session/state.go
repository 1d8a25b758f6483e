package session

import "encoding/json"

// State is the lifecycle state of the chat-network session.
type State int32

const (
	Uninitialized State = iota
	AwaitingScan
	Ready
	Disconnected
	AuthFailed
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	AwaitingScan:  "awaiting_scan",
	Ready:         "ready",
	Disconnected:  "disconnected",
	AuthFailed:    "auth_failed",
}

var stateFromName = map[string]State{
	"uninitialized": Uninitialized,
	"awaiting_scan": AwaitingScan,
	"ready":         Ready,
	"disconnected":  Disconnected,
	"auth_failed":   AuthFailed,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}
