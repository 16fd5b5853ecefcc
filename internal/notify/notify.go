// Package notify stores in-app notifications and fans them out to connected
// clients. Writes happen on the outbox consumer path, never inside a money
// operation; a failed notification is retried by the relay and a failed
// broadcast is dropped.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/metrics"
)

var (
	ErrNotificationNotFound = errors.New("notify: notification not found")
	// ErrDuplicate is returned by stores when a notification for the same
	// event and user already exists. The service treats it as success.
	ErrDuplicate = errors.New("notify: duplicate notification")
)

// Notification is one in-app message for a user.
type Notification struct {
	ID        string    `json:"id"`
	EventID   string    `json:"-"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	OrderID   string    `json:"orderId,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications. Create must return ErrDuplicate when a
// notification with the same (EventID, UserID) already exists.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Broadcaster pushes a notification to connected clients. Implementations
// must not block.
type Broadcaster interface {
	BroadcastNotification(n *Notification)
}

// Service implements notification business logic.
type Service struct {
	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewService creates a notification service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// WithBroadcaster attaches a live push channel.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.broadcaster = b
	return s
}

// Notify stores a notification and pushes it to connected clients. A
// duplicate (same event, same user) is silently skipped so redelivered
// outbox events do not double-notify.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = idgen.WithPrefix("ntf_")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	err := s.store.Create(ctx, n)
	if errors.Is(err, ErrDuplicate) {
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("stored").Inc()

	if s.broadcaster != nil {
		s.broadcaster.BroadcastNotification(n)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, unreadOnly, limit)
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID)
}

// MarkAllRead marks all of the user's notifications as read and returns
// how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// UnreadCount returns the user's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}
