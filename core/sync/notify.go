package sync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/sensor-timesync/base/metrics"
)

// Notifier receives state changes of synchronizers. Implementations are
// called on the acquisition hot path and must not block.
type Notifier interface {
	SynchronizerDetailsChanged(id string, strategies Strategy, tolerance, checkInterval time.Duration)
	SynchronizerOffsetChanged(id string, offset time.Duration)
}

type NotificationKind int

const (
	DetailsChanged NotificationKind = iota
	OffsetChanged
)

type Notification struct {
	Kind          NotificationKind
	ID            string
	Strategies    Strategy
	Tolerance     time.Duration
	CheckInterval time.Duration
	Offset        time.Duration
}

var notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.NotificationsDroppedN,
	Help: metrics.NotificationsDroppedH,
})

// NotificationQueue is a bounded Notifier. Notifications are delivered in
// order through C; when the queue is full new notifications are dropped.
type NotificationQueue struct {
	mu      sync.RWMutex
	closed  bool
	c       chan Notification
	dropped atomic.Uint64
}

var _ Notifier = (*NotificationQueue)(nil)

func NewNotificationQueue(size int) *NotificationQueue {
	if size <= 0 {
		panic("invalid argument: size must be positive")
	}
	return &NotificationQueue{c: make(chan Notification, size)}
}

func (q *NotificationQueue) push(n Notification) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		notificationsDropped.Inc()
		return
	}
	select {
	case q.c <- n:
	default:
		q.dropped.Add(1)
		notificationsDropped.Inc()
	}
}

func (q *NotificationQueue) SynchronizerDetailsChanged(id string, strategies Strategy,
	tolerance, checkInterval time.Duration) {
	q.push(Notification{
		Kind:          DetailsChanged,
		ID:            id,
		Strategies:    strategies,
		Tolerance:     tolerance,
		CheckInterval: checkInterval,
	})
}

func (q *NotificationQueue) SynchronizerOffsetChanged(id string, offset time.Duration) {
	q.push(Notification{Kind: OffsetChanged, ID: id, Offset: offset})
}

func (q *NotificationQueue) C() <-chan Notification {
	return q.c
}

func (q *NotificationQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close ends iteration over C. Notifications sent afterwards are counted
// as dropped. Close may be called more than once.
func (q *NotificationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.c)
	}
}

type nopNotifier struct{}

func (nopNotifier) SynchronizerDetailsChanged(string, Strategy, time.Duration, time.Duration) {}
func (nopNotifier) SynchronizerOffsetChanged(string, time.Duration)                         {}
