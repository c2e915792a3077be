package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// captureSink records every delivered notification for assertions.
type captureSink struct {
	mu    sync.Mutex
	calls []capturedCall
}

type capturedCall struct {
	title   string
	body    string
	isError bool
}

func (s *captureSink) Notify(title, body string, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, capturedCall{title, body, isError})
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestThrottler() (*Throttler, *captureSink, *time.Time) {
	sink := &captureSink{}
	th := NewThrottler(sink)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }
	return th, sink, &now
}

func TestDisconnectedSuppressedWithinCooldown(t *testing.T) {
	th, sink, now := newTestThrottler()

	assert.True(t, th.Disconnected("prom", "process died"))
	assert.False(t, th.Disconnected("prom", "process died again"))
	assert.Equal(t, 1, sink.count())

	*now = now.Add(59 * time.Second)
	assert.False(t, th.Disconnected("prom", "still down"))

	*now = now.Add(2 * time.Second)
	assert.True(t, th.Disconnected("prom", "still down"))
	assert.Equal(t, 2, sink.count())
}

func TestCooldownIsPerName(t *testing.T) {
	th, sink, _ := newTestThrottler()

	assert.True(t, th.Disconnected("prom", "down"))
	assert.True(t, th.Disconnected("grafana", "down"))
	assert.Equal(t, 2, sink.count())
}

func TestConnectedOnlyAfterDisconnect(t *testing.T) {
	th, sink, _ := newTestThrottler()

	// First successful connect: no prior disconnect, stays silent.
	assert.False(t, th.Connected("prom", "back up"))
	assert.Equal(t, 0, sink.count())

	assert.True(t, th.Disconnected("prom", "down"))
	assert.True(t, th.Connected("prom", "back up"))
	assert.Equal(t, 2, sink.count())
	assert.False(t, sink.calls[1].isError)

	// The pending flag was cleared; another connect is silent again.
	assert.False(t, th.Connected("prom", "back up"))
}

func TestReconnectClearsCooldown(t *testing.T) {
	th, sink, _ := newTestThrottler()

	assert.True(t, th.Disconnected("prom", "down"))
	assert.True(t, th.Connected("prom", "up"))
	// A fresh disconnect right after a reconnect fires immediately; the
	// reconnect cleared the cooldown entry.
	assert.True(t, th.Disconnected("prom", "down again"))
	assert.Equal(t, 3, sink.count())
}

func TestSuppressedDisconnectKeepsPendingFlag(t *testing.T) {
	th, sink, _ := newTestThrottler()

	assert.True(t, th.Disconnected("prom", "down"))
	assert.False(t, th.Disconnected("prom", "down"))
	// Reconnect still delivers even though the second disconnect was
	// throttled away.
	assert.True(t, th.Connected("prom", "up"))
	assert.Equal(t, 2, sink.count())
}

func TestThrottlerConcurrentAccess(t *testing.T) {
	sink := &captureSink{}
	th := NewThrottler(sink)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.Disconnected("prom", "down")
			th.Connected("prom", "up")
		}()
	}
	wg.Wait()
}
