package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"fundflow-server/src/models"
	"fundflow-server/src/util"
)

type Options struct {
	Currency string
	Channels []Channel
	Now      func() time.Time
	Cache    SummaryCache
}

// SummaryCache holds budget read models between mutations. The service
// invalidates a budget's entry after every committed unit of work touching it.
type SummaryCache interface {
	Get(ctx context.Context, budgetID int64, load func(ctx context.Context) (*models.BudgetSummary, error)) (*models.BudgetSummary, error)
	Invalidate(budgetID int64)
}

type Service struct {
	store    Store
	notifier Dispatcher
	channels map[string]Channel
	currency string
	now      func() time.Time
	cache    SummaryCache
}

func New(store Store, notifier Dispatcher, opts Options) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		channels: make(map[string]Channel),
		currency: opts.Currency,
		now:      opts.Now,
		cache:    opts.Cache,
	}
	if s.currency == "" {
		s.currency = "KES"
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, ch := range opts.Channels {
		s.channels[ch.Name()] = ch
	}
	return s
}

func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) Channel(name string) (Channel, bool) {
	ch, ok := s.channels[name]
	return ch, ok
}

type delivery struct {
	userIDs []int64
	note    models.Notification
}

// outbox collects the side effects of a unit of work that must only happen
// once it has committed.
type outbox struct {
	deliveries []delivery
	touched    map[int64]struct{}
}

func (o *outbox) notify(userIDs []int64, title, message, kind string, data map[string]any) {
	if len(userIDs) == 0 {
		return
	}
	o.deliveries = append(o.deliveries, delivery{
		userIDs: userIDs,
		note:    models.Notification{Title: title, Message: message, Type: kind, Data: data},
	})
}

func (o *outbox) touch(budgetID int64) {
	if o.touched == nil {
		o.touched = make(map[int64]struct{})
	}
	o.touched[budgetID] = struct{}{}
}

// commit runs fn in one store transaction and, only if it committed, fires
// the queued notifications and cache invalidations.
func (s *Service) commit(ctx context.Context, fn func(tx Tx, out *outbox) error) error {
	out := &outbox{}
	if err := s.store.WithTx(ctx, func(tx Tx) error {
		return fn(tx, out)
	}); err != nil {
		return err
	}
	if s.cache != nil {
		for id := range out.touched {
			s.cache.Invalidate(id)
		}
	}
	if s.notifier != nil {
		for _, d := range out.deliveries {
			d.note.CreatedAt = s.now()
			if err := s.notifier.Notify(ctx, d.userIDs, d.note); err != nil {
				log.Printf("WARN: notification %q to %v not delivered: %v", d.note.Type, d.userIDs, err)
			}
		}
	}
	return nil
}

// read runs fn in a store transaction without any post-commit effects.
func (s *Service) read(ctx context.Context, fn func(tx Tx) error) error {
	return s.store.WithTx(ctx, fn)
}

// record writes an audit entry inside the caller's transaction. A failure
// aborts the mutation it describes.
func (s *Service) record(ctx context.Context, tx Tx, action, entity string, entityID int64, actor models.Actor, changes any) error {
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encoding audit changes for %s: %w", action, err)
	}
	entry := &models.AuditLog{
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		UserID:    actor.ID,
		Changes:   raw,
		CreatedAt: s.now(),
	}
	if err := tx.InsertAudit(ctx, entry); err != nil {
		return fmt.Errorf("writing audit %s: %w", action, err)
	}
	return nil
}

// admins looks up who to notify about admin-facing events. A failed lookup
// only costs the notification.
func (s *Service) admins(ctx context.Context, tx Tx) []int64 {
	ids, err := tx.ListAdminIDs(ctx)
	if err != nil {
		log.Printf("WARN: listing admins for notification: %v", err)
		return nil
	}
	return ids
}

func (s *Service) display(minor int64) string {
	return util.FormatAmount(minor, s.currency)
}

func ptr[T any](v T) *T {
	return &v
}
