package webhook

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupWindow is how long delivery IDs are remembered. GitHub
// redeliveries normally arrive within minutes.
const DefaultDedupWindow = time.Hour

// DefaultDedupSize caps how many delivery IDs are remembered at once.
const DefaultDedupSize = 10000

// DeliveryLog remembers recent delivery IDs so redelivered webhooks are
// acknowledged without being handled twice.
type DeliveryLog struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewDeliveryLog creates a log that forgets IDs after window.
func NewDeliveryLog(window time.Duration) *DeliveryLog {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DeliveryLog{seen: expirable.NewLRU[string, struct{}](DefaultDedupSize, nil, window)}
}

// Seen records id and reports whether it was already recorded within the
// window. Empty IDs are never duplicates.
func (l *DeliveryLog) Seen(id string) bool {
	if id == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen.Get(id); ok {
		return true
	}
	l.seen.Add(id, struct{}{})
	return false
}

// Forget removes id so a redelivery is handled again. The server calls it
// when a delivery was not handled successfully.
func (l *DeliveryLog) Forget(id string) {
	l.seen.Remove(id)
}
