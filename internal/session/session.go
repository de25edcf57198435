// Package session holds the upload–notify–await coordination core: the
// Session model, the bounded result awaiter, and the controller that
// sequences one end-to-end request and projects its state for the view.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/platescan/platescan/internal/object"
)

// Session is one in-flight end-to-end request: upload, notify, await.
// Exactly one session is live at a time; a new one supersedes the old.
// Owned exclusively by the Controller and mutated only under its lock.
type Session struct {
	ID             uuid.UUID      `json:"id"`
	Object         *object.Object `json:"-"`
	UploadProgress int            `json:"uploadProgress"` // 0-100, monotonic; -1 while indeterminate
	Phase          Phase          `json:"phase"`
	ResultText     string         `json:"resultText,omitempty"`
	FailureReason  FailureReason  `json:"failureReason,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

func newSession(obj *object.Object) *Session {
	return &Session{
		ID:        uuid.New(),
		Object:    obj,
		Phase:     Uploading,
		StartedAt: time.Now(),
	}
}

func (s *Session) IsTerminal() bool {
	return s.Phase == Completed || s.Phase == Failed
}

// Clone returns a copy safe to hand to observers while the original keeps
// mutating under the controller lock.
func (s *Session) Clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Status is the single observable projection consumed by the view layer.
type Status struct {
	SessionID     uuid.UUID
	Phase         Phase
	Progress      int
	Message       string
	ResultText    string
	FailureReason FailureReason
}
