package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platescan/platescan/internal/channel"
	"github.com/platescan/platescan/internal/object"
	"github.com/platescan/platescan/internal/upload"
)

type fakeUploader struct {
	mu       sync.Mutex
	progress []upload.Progress
	err      error
	gate     chan struct{} // when non-nil, Upload blocks on it before returning
	keys     []string
}

func (u *fakeUploader) Upload(ctx context.Context, key, path string, onProgress upload.ProgressFunc) error {
	u.mu.Lock()
	u.keys = append(u.keys, key)
	progress := u.progress
	gate := u.gate
	err := u.err
	u.mu.Unlock()

	for _, p := range progress {
		if onProgress != nil {
			onProgress(p)
		}
	}
	if gate != nil {
		<-gate
	}
	return err
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []any
	err  error
}

func (c *fakeChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) publish(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.statuses))
	for i, s := range l.statuses {
		out[i] = s.Message
	}
	return out
}

func (l *statusLog) snapshot() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.statuses))
	copy(out, l.statuses)
	return out
}

func (l *statusLog) count(msg string) int {
	n := 0
	for _, m := range l.messages() {
		if m == msg {
			n++
		}
	}
	return n
}

func testObject() *object.Object {
	return &object.Object{Name: "car.jpg", Path: "/tmp/car.jpg", Size: 1000000}
}

func waitForPhase(t *testing.T, c *Controller, p Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Current(); s != nil && s.Phase == p {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	cur := c.Current()
	if cur == nil {
		t.Fatalf("no session while waiting for phase %v", p)
	}
	t.Fatalf("session stuck in phase %v, want %v", cur.Phase, p)
}

// assertSubsequence checks that want appears in got, in order.
func assertSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, m := range got {
		if i < len(want) && m == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("status sequence %q does not contain %q in order", got, want)
	}
}

func TestEndToEnd(t *testing.T) {
	uploader := &fakeUploader{progress: []upload.Progress{
		{Loaded: 250000, Total: 1000000, Percent: upload.Percent(250000, 1000000)},
		{Loaded: 500000, Total: 1000000, Percent: upload.Percent(500000, 1000000)},
		{Loaded: 1000000, Total: 1000000, Percent: upload.Percent(1000000, 1000000)},
	}}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	c.HandleFrame([]byte(`{"message":"KA-01-HH-1234"}`))

	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, Completed, cur.Phase)
	assert.Equal(t, "KA-01-HH-1234", cur.ResultText)
	assert.NotNil(t, cur.CompletedAt)

	assertSubsequence(t, logged.messages(), []string{
		"Uploading... 25%",
		"Uploading... 50%",
		"Uploading... 100%",
		"Number plate: KA-01-HH-1234",
	})

	require.Equal(t, 1, ch.sentCount())
	data, err := json.Marshal(ch.sent[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"sendVehicleInfo","message":{"bucket":"b","key":"car.jpg"}}`, string(data))
}

func TestUploadFailure(t *testing.T) {
	uploader := &fakeUploader{err: assert.AnError}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, Failed)

	cur := c.Current()
	assert.Equal(t, UploadFailed, cur.FailureReason)
	assert.Equal(t, 1, logged.count("Upload is failed"))
	assert.Zero(t, ch.sentCount(), "no notification is ever sent after an upload failure")
}

func TestSendBeforeConnectedFails(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{err: channel.ErrChannelNotReady}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, Failed)

	cur := c.Current()
	assert.Equal(t, ChannelNotReady, cur.FailureReason)
	for _, s := range logged.snapshot() {
		assert.NotEqual(t, AwaitingResult, s.Phase, "session must never reach awaiting_result")
	}
}

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", 20*time.Millisecond, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, Failed)

	cur := c.Current()
	assert.Equal(t, Timeout, cur.FailureReason)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, logged.count("No response from server yet."))
}

func TestResultCancelsTimer(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", 50*time.Millisecond, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	c.HandleFrame([]byte(`{"message":"XYZ123"}`))
	waitForPhase(t, c, Completed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Completed, c.Current().Phase)
	assert.Zero(t, logged.count("No response from server yet."))
}

func TestMalformedFramesIgnored(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	c.HandleFrame([]byte(`not json at all`))
	c.HandleFrame([]byte(`{"success":true}`))
	assert.Equal(t, AwaitingResult, c.Current().Phase)

	c.HandleFrame([]byte(`{"message":"XYZ123"}`))
	assert.Equal(t, Completed, c.Current().Phase)
	assert.Equal(t, "XYZ123", c.Current().ResultText)
}

func TestChannelErrorMidWait(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Hour, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	c.HandleChannelState(channel.Erroring, assert.AnError)

	cur := c.Current()
	assert.Equal(t, Failed, cur.Phase)
	assert.Equal(t, ChannelError, cur.FailureReason)
	assert.Equal(t, 1, logged.count("Connection to server lost"))
}

func TestChannelStateIgnoredWhenNotWaiting(t *testing.T) {
	uploader := &fakeUploader{gate: make(chan struct{})}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	c.HandleChannelState(channel.Disconnected, nil)

	assert.Equal(t, Uploading, c.Current().Phase)
	close(uploader.gate)
}

func TestSupersessionCancelsPreviousTimer(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", 30*time.Millisecond, logged.publish)

	first := c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	// Supersede with a session whose upload never finishes, then let the old
	// window elapse: the old timer must not fire into the new session.
	uploader.mu.Lock()
	uploader.gate = make(chan struct{})
	uploader.mu.Unlock()
	second := c.OnFileSelected(context.Background(), testObject())
	require.NotEqual(t, first, second)

	time.Sleep(80 * time.Millisecond)
	cur := c.Current()
	assert.Equal(t, second, cur.ID)
	assert.Equal(t, Uploading, cur.Phase)
	assert.Zero(t, logged.count("No response from server yet."))
	close(uploader.gate)
}

func TestStaleResultDiscarded(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Hour, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	uploader.mu.Lock()
	uploader.gate = make(chan struct{})
	uploader.mu.Unlock()
	second := c.OnFileSelected(context.Background(), testObject())

	// A reply aimed at the superseded session arrives while the new session
	// is still uploading. It must not complete the new session.
	c.HandleFrame([]byte(`{"message":"STALE-1"}`))

	cur := c.Current()
	assert.Equal(t, second, cur.ID)
	assert.Equal(t, Uploading, cur.Phase)
	assert.Empty(t, cur.ResultText)
	close(uploader.gate)
}

func TestStaleUploadCompletionDiscarded(t *testing.T) {
	gate := make(chan struct{})
	uploader := &fakeUploader{gate: gate}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Hour, logged.publish)

	c.OnFileSelected(context.Background(), testObject())

	// Supersede while the first upload is still in flight, then let the
	// first upload finish: it must not send a notification.
	uploader.mu.Lock()
	uploader.gate = nil
	uploader.mu.Unlock()
	second := c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)
	sentBefore := ch.sentCount()

	close(gate)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, sentBefore, ch.sentCount(), "superseded upload must not notify")
	assert.Equal(t, second, c.Current().ID)
	assert.Equal(t, AwaitingResult, c.Current().Phase)
}

func TestProgressNeverDecreases(t *testing.T) {
	uploader := &fakeUploader{progress: []upload.Progress{
		{Loaded: 500000, Total: 1000000, Percent: 50},
		{Loaded: 250000, Total: 1000000, Percent: 25}, // out of order
		{Loaded: 1000000, Total: 1000000, Percent: 100},
	}}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	last := -1
	for _, s := range logged.snapshot() {
		if s.Phase != Uploading {
			continue
		}
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
	assert.Zero(t, logged.count("Uploading... 25%"))
}

func TestIndeterminateProgress(t *testing.T) {
	uploader := &fakeUploader{progress: []upload.Progress{
		{Loaded: 100, Total: 0, Percent: -1},
	}}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", time.Second, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	assert.Equal(t, 1, logged.count("Uploading..."))
}

func TestCloseClearsPendingTimer(t *testing.T) {
	uploader := &fakeUploader{}
	ch := &fakeChannel{}
	logged := &statusLog{}
	c := NewController(uploader, ch, "b", 30*time.Millisecond, logged.publish)

	c.OnFileSelected(context.Background(), testObject())
	waitForPhase(t, c, AwaitingResult)

	c.Close()
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, logged.count("No response from server yet."))
}
