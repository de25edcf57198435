package channel

import "encoding/json"

// State tracks the lifecycle of the duplex channel. Transitions are driven
// solely by socket events, never by session phase.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Erroring
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Erroring:     "erroring",
}

var stateFromName = map[string]State{
	"disconnected": Disconnected,
	"connecting":   Connecting,
	"connected":    Connected,
	"erroring":     Erroring,
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
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}
