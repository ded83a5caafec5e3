package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/identity/internal/logging"
)

const (
	TypeUserRegistered       = "user_registered"
	TypeUserLockedOut        = "user_locked_out"
	TypeClientRegistered     = "client_registered"
	TypeTokenIssued          = "token_issued"
	TypeAuthorizationRevoked = "authorization_revoked"
)

type Event struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Subject         string         `json:"subject,omitempty"`
	ClientID        string         `json:"client_id,omitempty"`
	AuthorizationID uint           `json:"authorization_id,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Key partitions events of one subject (or client) together.
func (e Event) Key() string {
	if e.Subject != "" {
		return e.Subject
	}
	return e.ClientID
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Emit fills in the id and timestamp and publishes e. Failures are logged
// and never reach the caller.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", e.Type, "event_id", e.ID, "error", err)
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}
