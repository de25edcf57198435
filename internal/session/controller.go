package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/platescan/platescan/internal/channel"
	"github.com/platescan/platescan/internal/object"
	"github.com/platescan/platescan/internal/upload"
)

const defaultResultWindow = 15 * time.Second

// Uploader is the blob-transfer collaborator.
type Uploader interface {
	Upload(ctx context.Context, key, path string, onProgress upload.ProgressFunc) error
}

// Channel is the outbound side of the duplex channel.
type Channel interface {
	Send(v any) error
}

// Publisher receives status projections. It is invoked under the controller
// lock and must not call back into the controller.
type Publisher func(Status)

// Controller sequences one end-to-end request: reset, upload, notify, await.
// All callbacks are tagged with the session they belong to and re-checked for
// currency under the lock before touching state, so completions from a
// superseded session are discarded rather than applied.
type Controller struct {
	uploader Uploader
	ch       Channel
	bucket   string
	window   time.Duration
	publish  Publisher
	log      zerolog.Logger

	mu      sync.Mutex
	cur     *Session
	awaiter *Awaiter // non-nil exactly while cur.Phase == AwaitingResult
}

func NewController(uploader Uploader, ch Channel, bucket string, window time.Duration, publish Publisher) *Controller {
	if window <= 0 {
		window = defaultResultWindow
	}
	if publish == nil {
		publish = func(Status) {}
	}
	return &Controller{
		uploader: uploader,
		ch:       ch,
		bucket:   bucket,
		window:   window,
		publish:  publish,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// OnFileSelected is the sole entry point. It supersedes any previous session,
// invalidating its pending timer and all of its late callbacks, and starts
// the upload for a fresh one.
func (c *Controller) OnFileSelected(ctx context.Context, obj *object.Object) uuid.UUID {
	c.mu.Lock()
	if c.awaiter != nil {
		c.awaiter.Cancel()
		c.awaiter = nil
	}
	if c.cur != nil && !c.cur.IsTerminal() {
		c.log.Info().Str("session", c.cur.ID.String()).Msg("session superseded")
	}

	sess := newSession(obj)
	c.cur = sess
	c.publishLocked("Uploading... 0%")
	c.mu.Unlock()

	c.log.Info().Str("session", sess.ID.String()).Str("key", obj.Key()).
		Int64("size", obj.Size).Msg("session started")

	go c.run(ctx, sess)
	return sess.ID
}

// run executes the upload and, on success, hands off to notify/await. An
// upload belonging to a superseded session runs to completion at the
// transport level; its outcome is discarded by the currency checks.
func (c *Controller) run(ctx context.Context, sess *Session) {
	err := c.uploader.Upload(ctx, sess.Object.Key(), sess.Object.Path, func(p upload.Progress) {
		c.handleProgress(sess.ID, p)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("session", sess.ID.String()).Msg("upload failed")
		c.fail(sess.ID, UploadFailed, "Upload is failed")
		return
	}
	c.notifyAndAwait(sess.ID)
}

func (c *Controller) handleProgress(id uuid.UUID, p upload.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(id) || c.cur.Phase != Uploading {
		return
	}
	if p.Percent >= 0 && p.Percent < c.cur.UploadProgress {
		return // never report a decrease within a session
	}
	c.cur.UploadProgress = p.Percent
	if p.Percent < 0 {
		c.publishLocked("Uploading...")
		return
	}
	c.publishLocked(fmt.Sprintf("Uploading... %d%%", p.Percent))
}

func (c *Controller) notifyAndAwait(id uuid.UUID) {
	c.mu.Lock()
	if !c.currentLocked(id) || c.cur.Phase != Uploading {
		c.mu.Unlock()
		return
	}
	c.cur.Phase = Notifying
	key := c.cur.Object.Key()
	c.publishLocked("Requesting analysis...")
	c.mu.Unlock()

	// Send outside the lock: the channel write has its own timeout and must
	// not block progress, frame or timer callbacks.
	err := c.ch.Send(channel.NewNotification(c.bucket, key))
	if err != nil {
		reason := ChannelError
		msg := "Connection to server lost"
		if errors.Is(err, channel.ErrChannelNotReady) {
			reason = ChannelNotReady
			msg = "Channel is not ready"
		}
		c.log.Warn().Err(err).Str("session", id.String()).Msg("notification failed")
		c.fail(id, reason, msg)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(id) || c.cur.Phase != Notifying {
		// Superseded while the notification was in flight. The protocol has
		// no correlation ID, so a reply to this stale notification cannot be
		// told apart from one for the current session; inherited from the
		// original wire contract.
		c.log.Warn().Str("session", id.String()).Msg("notification sent for superseded session")
		return
	}
	c.cur.Phase = AwaitingResult
	c.awaiter = StartAwaiter(c.window, func() { c.handleTimeout(id) })
	c.publishLocked("Waiting for result...")
}

// HandleFrame is the single inbound-frame consumer. Malformed frames are
// logged and dropped so they can neither complete nor fail a legitimate wait.
func (c *Controller) HandleFrame(data []byte) {
	text, ok := channel.ParseResult(data)
	if !ok {
		c.log.Debug().Str("frame", string(data)).Msg("discarding malformed frame")
		return
	}
	c.handleResult(text)
}

func (c *Controller) handleResult(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.Phase != AwaitingResult {
		// Possibly a late reply to a superseded notification; the wire
		// format carries no correlation ID to check against.
		c.log.Debug().Str("text", text).Msg("discarding result with no session awaiting")
		return
	}
	if !c.awaiter.Resolve() {
		return
	}
	c.awaiter = nil
	c.cur.Phase = Completed
	c.cur.ResultText = text
	now := time.Now()
	c.cur.CompletedAt = &now
	c.log.Info().Str("session", c.cur.ID.String()).Str("text", text).Msg("result received")
	c.publishLocked("Number plate: " + text)
}

func (c *Controller) handleTimeout(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(id) || c.cur.Phase != AwaitingResult {
		return
	}
	c.awaiter = nil
	c.cur.Phase = Failed
	c.cur.FailureReason = Timeout
	now := time.Now()
	c.cur.CompletedAt = &now
	c.log.Warn().Str("session", id.String()).Msg("result window elapsed")
	c.publishLocked("No response from server yet.")
}

// HandleChannelState observes channel lifecycle transitions. A channel error
// or close while a session is awaiting its result terminates the wait
// immediately with a connection failure.
func (c *Controller) HandleChannelState(s channel.State, err error) {
	if s == channel.Connected || s == channel.Connecting {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.Phase != AwaitingResult {
		return
	}
	if !c.awaiter.Cancel() {
		return
	}
	c.awaiter = nil
	c.cur.Phase = Failed
	c.cur.FailureReason = ChannelError
	now := time.Now()
	c.cur.CompletedAt = &now
	c.log.Warn().Err(err).Str("session", c.cur.ID.String()).Msg("channel lost while awaiting result")
	c.publishLocked("Connection to server lost")
}

// Current returns a snapshot of the live session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.Clone()
}

// Close clears any pending timer. Part of process teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiter != nil {
		c.awaiter.Cancel()
		c.awaiter = nil
	}
}

func (c *Controller) fail(id uuid.UUID, reason FailureReason, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(id) || c.cur.IsTerminal() {
		return
	}
	if c.awaiter != nil {
		c.awaiter.Cancel()
		c.awaiter = nil
	}
	c.cur.Phase = Failed
	c.cur.FailureReason = reason
	now := time.Now()
	c.cur.CompletedAt = &now
	c.publishLocked(msg)
}

func (c *Controller) currentLocked(id uuid.UUID) bool {
	return c.cur != nil && c.cur.ID == id
}

func (c *Controller) publishLocked(msg string) {
	c.publish(Status{
		SessionID:     c.cur.ID,
		Phase:         c.cur.Phase,
		Progress:      c.cur.UploadProgress,
		Message:       msg,
		ResultText:    c.cur.ResultText,
		FailureReason: c.cur.FailureReason,
	})
}
