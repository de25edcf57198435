package session

import "encoding/json"

// Phase is the lifecycle position of a session.
type Phase int

const (
	Idle Phase = iota
	Uploading
	Notifying
	AwaitingResult
	Completed
	Failed
)

var phaseNames = map[Phase]string{
	Idle:           "idle",
	Uploading:      "uploading",
	Notifying:      "notifying",
	AwaitingResult: "awaiting_result",
	Completed:      "completed",
	Failed:         "failed",
}

var phaseFromName = map[string]Phase{
	"idle":            Idle,
	"uploading":       Uploading,
	"notifying":       Notifying,
	"awaiting_result": AwaitingResult,
	"completed":       Completed,
	"failed":          Failed,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}

// FailureReason classifies why a session ended in Failed. Every failure is
// terminal for its session; nothing retries.
type FailureReason int

const (
	FailureNone FailureReason = iota
	UploadFailed
	ChannelNotReady
	ChannelError
	Timeout
)

var failureNames = map[FailureReason]string{
	FailureNone:     "",
	UploadFailed:    "upload_failed",
	ChannelNotReady: "channel_not_ready",
	ChannelError:    "channel_error",
	Timeout:         "timeout",
}

func (r FailureReason) String() string {
	if s, ok := failureNames[r]; ok {
		return s
	}
	return "unknown"
}

func (r FailureReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}
