package notify

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	DefaultDuration = 5 * time.Second
	SuccessDuration = 3 * time.Second
)

// Notification is a transient user-facing message. Entries expire on their
// own after Duration; nothing is persisted.
type Notification struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Severity  Severity      `json:"severity"`
	Retryable bool          `json:"retryable"`
	Duration  time.Duration `json:"-"`
	ExpiresAt time.Time     `json:"expiresAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Bus holds pending notifications per user in insertion order and fans new
// entries out to subscribers.
type Bus struct {
	mu      sync.Mutex
	pending map[string][]Notification
	subs    map[string]map[chan Notification]struct{}
	now     func() time.Time
	expire  bool
}

func NewBus() *Bus {
	return &Bus{
		pending: make(map[string][]Notification),
		subs:    make(map[string]map[chan Notification]struct{}),
		now:     time.Now,
		expire:  true,
	}
}

// Publish queues a notification for the user, fills in defaults, and starts
// its expiry timer. The stored entry is returned with ID and timestamps set.
func (b *Bus) Publish(userID string, n Notification) Notification {
	if n.ID == "" {
		n.ID = newNotificationID()
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if n.Duration <= 0 {
		if n.Severity == SeveritySuccess {
			n.Duration = SuccessDuration
		} else {
			n.Duration = DefaultDuration
		}
	}

	b.mu.Lock()
	n.CreatedAt = b.now()
	n.ExpiresAt = n.CreatedAt.Add(n.Duration)
	b.pending[userID] = append(b.pending[userID], n)
	subs := b.subs[userID]
	for ch := range subs {
		select {
		case ch <- n:
		default: // slow subscriber, drop rather than block
		}
	}
	b.mu.Unlock()

	if b.expire {
		time.AfterFunc(n.Duration, func() {
			b.Dismiss(userID, n.ID)
		})
	}
	return n
}

// Snapshot returns the user's pending notifications in insertion order.
func (b *Bus) Snapshot(userID string) []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.pending[userID]
	out := make([]Notification, len(entries))
	copy(out, entries)
	return out
}

// Dismiss removes a notification before its timer fires. It reports whether
// the entry was still pending.
func (b *Bus) Dismiss(userID, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.pending[userID]
	for i, n := range entries {
		if n.ID == id {
			b.pending[userID] = append(entries[:i:i], entries[i+1:]...)
			if len(b.pending[userID]) == 0 {
				delete(b.pending, userID)
			}
			return true
		}
	}
	return false
}

// Subscribe returns a channel receiving the user's future notifications and
// a cancel function that must be called when the consumer goes away.
func (b *Bus) Subscribe(userID string) (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Notification]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs := b.subs[userID]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Success(userID, message string) Notification {
	return b.Publish(userID, Notification{Message: message, Severity: SeveritySuccess})
}

func (b *Bus) Warning(userID, message string) Notification {
	return b.Publish(userID, Notification{Message: message, Severity: SeverityWarning})
}

func (b *Bus) Error(userID, message string, retryable bool) Notification {
	return b.Publish(userID, Notification{Message: message, Severity: SeverityError, Retryable: retryable})
}

func newNotificationID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "n-fallback"
	}
	return hex.EncodeToString(buf[:])
}
