package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conservatory/internal/observability"
	"conservatory/pkg/domain"
)

// Notification tells a person that a record they were linked to was deleted.
type Notification struct {
	ID            string           `json:"id"`
	RecipientID   string           `json:"recipientId"`
	RecipientName string           `json:"recipientName"`
	Root          domain.EntityRef `json:"root"`
	RootName      string           `json:"rootName"`
	Reason        string           `json:"reason,omitempty"`
	SentAt        time.Time        `json:"sentAt"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes each notification to logger.
func LogNotifier(logger observability.Logger) Notifier {
	return NotifierFunc(func(_ context.Context, n Notification) error {
		logger.Info("deletion notice", "recipient", n.RecipientID, "name", n.RecipientName, "root", n.Root.String(), "reason", n.Reason)
		return nil
	})
}

// notify runs after every deletion succeeded; delivery failures become
// outcome warnings.
func (p *Planner) notify(ctx context.Context, g *graph, reason string, outcome *domain.DeletionOutcome) {
	for _, id := range g.recipients {
		name := domain.UnknownName
		if person, err := p.backend.GetPerson(ctx, id); err == nil {
			name = domain.DisplayName(person)
		}
		n := Notification{
			ID:            uuid.NewString(),
			RecipientID:   id,
			RecipientName: name,
			Root:          g.root,
			RootName:      g.rootName,
			Reason:        reason,
			SentAt:        p.hooks.Clock.Now(),
		}
		if err := p.notifier.Notify(ctx, n); err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("notify %s: %v", id, err))
			continue
		}
		outcome.Notified = append(outcome.Notified, id)
	}
}
