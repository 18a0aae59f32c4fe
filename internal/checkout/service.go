package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/cache"
	"github.com/noah-isme/apotek-pos/internal/catalog"
	"github.com/noah-isme/apotek-pos/internal/events"
	"github.com/noah-isme/apotek-pos/internal/gateway"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
	"github.com/noah-isme/apotek-pos/internal/tenant"
)

const (
	defaultSessionTTL = 2 * time.Hour
	defaultLockTTL    = 10 * time.Second
)

// Locker confines a key to one flow of control at a time.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Config groups Service dependencies.
type Config struct {
	Store      Store
	Locker     Locker
	Catalog    catalog.Source
	Recorder   gateway.Recorder
	Events     Emitter
	Rates      pricing.RateTable
	SessionTTL time.Duration
	LockTTL    time.Duration
	Currency   string
	Logger     zerolog.Logger
	Metrics    *obs.CheckoutMetrics
	Now        func() time.Time
}

// Service hosts checkout sessions. Every read-modify-write of a session runs
// under the session lock; sessions are not shared between tenants.
type Service struct {
	store    Store
	locker   Locker
	catalog  catalog.Source
	recorder gateway.Recorder
	events   Emitter
	rates    pricing.RateTable
	ttl      time.Duration
	lockTTL  time.Duration
	currency string
	logger   zerolog.Logger
	metrics  *obs.CheckoutMetrics
	now      func() time.Time
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("checkout: store is required")
	case cfg.Locker == nil:
		return nil, errors.New("checkout: locker is required")
	case cfg.Catalog == nil:
		return nil, errors.New("checkout: catalog source is required")
	case cfg.Recorder == nil:
		return nil, errors.New("checkout: recorder is required")
	}
	s := &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		catalog:  cfg.Catalog,
		recorder: cfg.Recorder,
		events:   cfg.Events,
		rates:    cfg.Rates,
		ttl:      cfg.SessionTTL,
		lockTTL:  cfg.LockTTL,
		currency: cfg.Currency,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultSessionTTL
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start opens an empty session for the tenant in ctx.
func (s *Service) Start(ctx context.Context) (View, error) {
	now := s.now().UTC()
	tenantID, _ := tenant.From(ctx)
	snap := Snapshot{ID: uuid.NewString(), Tenant: tenantID, CreatedAt: now, UpdatedAt: now}
	err := s.store.Save(ctx, snap, s.ttl)
	s.metrics.Operation("start", resultLabel(err))
	if err != nil {
		return View{}, fmt.Errorf("checkout: save session: %w", err)
	}
	return s.view(snap, pos.NewSession()), nil
}

// Get returns the current view of a session.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	snap, sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(snap, sess), nil
}

// AddItem looks the item up in the catalog and adds it, merging with an
// existing line of the same id and kind.
func (s *Service) AddItem(ctx context.Context, id string, kind pos.Kind, itemID string) (View, error) {
	if !kind.Valid() {
		return View{}, fmt.Errorf("%w: %q", pos.ErrUnknownKind, string(kind))
	}
	itemID = strings.TrimSpace(itemID)
	item, err := s.catalog.Lookup(ctx, kind, itemID)
	if err != nil {
		s.metrics.Operation("add_item", resultLabel(err))
		if errors.Is(err, catalog.ErrNotFound) {
			return View{}, err
		}
		s.logger.Error().Err(err).Str("session_id", id).Str("item_id", itemID).Msg("catalog lookup failed")
		return View{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return s.mutate(ctx, "add_item", id, func(sess *pos.Session) error {
		_, err := sess.AddLine(item, kind)
		return err
	})
}

// SetQuantity sets the quantity of a line; zero or less removes it.
func (s *Service) SetQuantity(ctx context.Context, id string, index, quantity int) (View, error) {
	return s.mutate(ctx, "set_quantity", id, func(sess *pos.Session) error {
		return sess.SetQuantity(index, quantity)
	})
}

// SetUnitPrice overrides the unit price of a line.
func (s *Service) SetUnitPrice(ctx context.Context, id string, index int, price pricing.Money) (View, error) {
	return s.mutate(ctx, "set_unit_price", id, func(sess *pos.Session) error {
		return sess.SetUnitPrice(index, price)
	})
}

// UpdateLine applies a price override and then a quantity change to one line in
// a single mutation. Either may be nil. Nothing is saved unless both succeed.
func (s *Service) UpdateLine(ctx context.Context, id string, index int, price *pricing.Money, quantity *int) (View, error) {
	return s.mutate(ctx, "update_line", id, func(sess *pos.Session) error {
		if price != nil {
			if err := sess.SetUnitPrice(index, *price); err != nil {
				return err
			}
		}
		if quantity != nil {
			return sess.SetQuantity(index, *quantity)
		}
		return nil
	})
}

// RemoveLine deletes a line.
func (s *Service) RemoveLine(ctx context.Context, id string, index int) (View, error) {
	return s.mutate(ctx, "remove_line", id, func(sess *pos.Session) error {
		return sess.RemoveLine(index)
	})
}

// SelectCustomer associates a customer with the session.
func (s *Service) SelectCustomer(ctx context.Context, id string, customer pos.Customer) (View, error) {
	return s.mutate(ctx, "select_customer", id, func(sess *pos.Session) error {
		sess.SelectCustomer(customer)
		return nil
	})
}

// AddTender appends a payment.
func (s *Service) AddTender(ctx context.Context, id string, method pos.Method, amount pricing.Money) (View, error) {
	return s.mutate(ctx, "add_tender", id, func(sess *pos.Session) error {
		return sess.AddTender(method, amount)
	})
}

// RemoveTender deletes a payment.
func (s *Service) RemoveTender(ctx context.Context, id string, index int) (View, error) {
	return s.mutate(ctx, "remove_tender", id, func(sess *pos.Session) error {
		return sess.RemoveTender(index)
	})
}

// Cancel clears and discards a session.
func (s *Service) Cancel(ctx context.Context, id string) error {
	err := s.locker.WithLock(ctx, cache.KeySessionLock(ctx, id), s.lockTTL, func(ctx context.Context) error {
		snap, sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		lines := len(sess.Lines())
		sess.Clear()
		if err := s.store.Delete(ctx, snap.ID); err != nil {
			return fmt.Errorf("checkout: delete session: %w", err)
		}
		s.logger.Info().Str("session_id", snap.ID).Str("tenant", snap.Tenant).Int("lines", lines).Msg("session canceled")
		s.emit(ctx, events.TopicSessionCanceled, snap.ID, map[string]any{"sessionId": snap.ID, "lines": lines})
		return nil
	})
	s.metrics.Operation("cancel", resultLabel(err))
	return err
}

// Finalize hands a balanced session to the gateway and discards it. The
// session is left untouched when the gateway fails so the cashier can retry;
// the retry reuses the record id so the gateway can deduplicate it.
func (s *Service) Finalize(ctx context.Context, id string) (Result, error) {
	var out Result
	err := s.locker.WithLock(ctx, cache.KeySessionLock(ctx, id), s.lockTTL, func(ctx context.Context) error {
		snap, sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if len(sess.Lines()) == 0 {
			return ErrEmptyCart
		}
		rate := s.rates.For(snap.Tenant)
		settlement := sess.ComputeSettlement(rate)
		if !settlement.Settled() {
			return fmt.Errorf("%w: %s still due", ErrNotSettleable, settlement.RemainingBalance)
		}

		if snap.RecordID == uuid.Nil {
			snap.RecordID = uuid.New()
			if err := s.store.Save(ctx, snap, s.ttl); err != nil {
				return fmt.Errorf("checkout: save session: %w", err)
			}
		}
		rec := gateway.Record{
			ID:          snap.RecordID,
			Tenant:      snap.Tenant,
			SessionID:   snap.ID,
			Currency:    s.currency,
			TaxRate:     rate,
			Lines:       pricedLines(sess),
			Tenders:     sess.Tenders(),
			Customer:    customerOf(sess),
			Settlement:  settlement,
			FinalizedAt: s.now().UTC(),
		}
		receipt, err := s.recorder.Record(ctx, rec)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", snap.ID).Str("record_id", rec.ID.String()).Msg("gateway record failed")
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}

		sess.Clear()
		if err := s.store.Delete(ctx, snap.ID); err != nil {
			// the sale is recorded; a stale session will expire with its ttl
			s.logger.Error().Err(err).Str("session_id", snap.ID).Msg("delete finalized session failed")
		}
		for _, t := range rec.Tenders {
			s.metrics.AddTendered(string(t.Method), int64(t.Amount))
		}
		s.logger.Info().
			Str("session_id", snap.ID).
			Str("tenant", snap.Tenant).
			Str("receipt", receipt.Number).
			Stringer("total_due", settlement.TotalDue).
			Stringer("change_due", settlement.ChangeDue).
			Msg("transaction finalized")
		s.emit(ctx, events.TopicTransactionFinalized, snap.ID, map[string]any{
			"sessionId":     snap.ID,
			"recordId":      rec.ID,
			"receiptNumber": receipt.Number,
			"totalDue":      settlement.TotalDue,
		})

		out = Result{
			SessionID:  snap.ID,
			Receipt:    receipt,
			Settlement: settlement,
			Lines:      rec.Lines,
			Tenders:    rec.Tenders,
			Customer:   rec.Customer,
		}
		return nil
	})
	s.metrics.Finalized(resultLabel(err))
	return out, err
}

func (s *Service) mutate(ctx context.Context, op, id string, fn func(*pos.Session) error) (View, error) {
	var view View
	err := s.locker.WithLock(ctx, cache.KeySessionLock(ctx, id), s.lockTTL, func(ctx context.Context) error {
		snap, sess, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		snap.State = sess.State()
		snap.UpdatedAt = s.now().UTC()
		snap.RecordID = uuid.Nil
		if err := s.store.Save(ctx, snap, s.ttl); err != nil {
			return fmt.Errorf("checkout: save session: %w", err)
		}
		view = s.view(snap, sess)
		return nil
	})
	s.metrics.Operation(op, resultLabel(err))
	return view, err
}

func (s *Service) load(ctx context.Context, id string) (Snapshot, *pos.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Snapshot{}, nil, ErrSessionNotFound
	}
	snap, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Snapshot{}, nil, err
		}
		return Snapshot{}, nil, fmt.Errorf("checkout: load session: %w", err)
	}
	if tenantID, _ := tenant.From(ctx); snap.Tenant != tenantID {
		return Snapshot{}, nil, ErrSessionNotFound
	}
	sess, err := pos.Restore(snap.State)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("checkout: restore session %s: %w", snap.ID, err)
	}
	return snap, sess, nil
}

func (s *Service) view(snap Snapshot, sess *pos.Session) View {
	rate := s.rates.For(snap.Tenant)
	settlement := sess.ComputeSettlement(rate)
	return View{
		ID:         snap.ID,
		Tenant:     snap.Tenant,
		Status:     statusOf(sess, settlement),
		Currency:   s.currency,
		TaxRate:    rate,
		Lines:      pricedLines(sess),
		Tenders:    sess.Tenders(),
		Customer:   customerOf(sess),
		Settlement: settlement,
		CanSettle:  settlement.Settled(),
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		ExpiresAt:  snap.UpdatedAt.Add(s.ttl),
	}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("session_id", aggregateID).Msg("emit event failed")
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrNotSettleable):
		return "not_settleable"
	case errors.Is(err, pos.ErrOutOfRange), errors.Is(err, pos.ErrInvalidAmount),
		errors.Is(err, pos.ErrUnknownKind), errors.Is(err, pos.ErrUnknownMethod):
		return "rejected"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "error"
	}
}
