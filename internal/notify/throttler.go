package notify

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between disconnect/error alerts for
// the same tunnel name.
const DefaultCooldown = 60 * time.Second

// Throttler rate-limits alerts per tunnel name so a flapping connection does
// not spam the user. Safe for concurrent use from multiple tunnel tasks.
//
// A map entry doubles as the "disconnect pending" flag: it is created when a
// disconnect/error alert fires and cleared when the matching reconnect alert
// is delivered. Connected alerts without a pending entry are suppressed, so a
// tunnel's very first successful connect stays silent.
type Throttler struct {
	mu       sync.Mutex
	sink     Sink
	cooldown time.Duration
	lastSent map[string]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewThrottler creates a throttler delivering through sink with the default
// 60-second cooldown.
func NewThrottler(sink Sink) *Throttler {
	return &Throttler{
		sink:     sink,
		cooldown: DefaultCooldown,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Disconnected emits a disconnect/error alert for the named tunnel unless one
// was already sent within the cooldown window. Even when suppressed, the
// pending flag stays set so a later reconnect alert is still delivered.
// Returns whether the alert was actually sent.
func (t *Throttler) Disconnected(name, body string) bool {
	t.mu.Lock()
	last, pending := t.lastSent[name]
	if pending && t.now().Sub(last) < t.cooldown {
		t.mu.Unlock()
		return false
	}
	t.lastSent[name] = t.now()
	t.mu.Unlock()

	t.sink.Notify(name+" disconnected", body, true)
	return true
}

// Connected emits a reconnect alert for the named tunnel, but only if a
// disconnect/error alert is pending for it. Clears the pending flag. Returns
// whether the alert was sent.
func (t *Throttler) Connected(name, body string) bool {
	t.mu.Lock()
	if _, pending := t.lastSent[name]; !pending {
		t.mu.Unlock()
		return false
	}
	delete(t.lastSent, name)
	t.mu.Unlock()

	t.sink.Notify(name+" connected", body, false)
	return true
}

// AllReady signals that every enabled tunnel is fully connected. Unthrottled
// by design; the current policy makes no user-visible alert out of it, the
// hook just forwards to the sink's log path via a no-op.
func (t *Throttler) AllReady() {
	// Intentionally no notification. The hook exists so a future policy can
	// surface an aggregate "all tunnels ready" signal.
}
