package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"storeops/backend/internal/audit"
	"storeops/backend/internal/cache"
	"storeops/backend/internal/domain"
	"storeops/backend/internal/store"
	"storeops/backend/internal/xid"
)

// ErrForbidden is returned when the actor's role may not run an operation.
var ErrForbidden = errors.New("admin role required")

type Service struct {
	repo         store.Repository
	audit        audit.Sink
	orders       cache.OrderCache
	orderTTL     time.Duration
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	orderTimeout time.Duration
}

type Option func(*Service)

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.audit = sink
		}
	}
}

func WithOrderCache(c cache.OrderCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.orders = c
			s.orderTTL = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock sets the source of "now". Its location is the store's time
// zone and decides which calendar day promotions are checked against.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOrderTimeout bounds the whole order workflow, retries included.
func WithOrderTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.orderTimeout = d
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		audit:    audit.NewStoreSink(repo),
		orders:   cache.NoopOrderCache{},
		orderTTL: 5 * time.Minute,
		logger:   zap.L(),
		tracer:   otel.Tracer("storeops/service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: audit range ends before it starts", store.ErrInvalidInput)
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

func systemActor(actor domain.Actor) domain.Actor {
	if actor.Username == "" && actor.Role == "" {
		return domain.Actor{Username: "system", Role: domain.RoleSystem}
	}
	return actor
}

func requireAdmin(actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem {
		return ErrForbidden
	}
	return nil
}

// recordAudit hands entry to the audit sink. The audited operation has
// already committed, so failures are only logged.
func (s *Service) recordAudit(ctx context.Context, actor domain.Actor, entry domain.AuditLog) {
	actor = systemActor(actor)
	entry.ID = xid.New("audit")
	entry.ActorID = actor.UserID
	entry.ActorName = actor.Username
	entry.ActorRole = actor.Role
	entry.CreatedAt = s.now().UTC()

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.audit.LogAction(auditCtx, entry); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err),
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classify passes domain errors through and marks anything else as a
// storage failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		store.ErrNotFound,
		store.ErrInvalidInput,
		store.ErrInsufficientStock,
		store.ErrInvalidTransition,
		store.ErrDuplicate,
		store.ErrPersistence,
		ErrForbidden,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", store.ErrPersistence, err)
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "ewallet", "split":
		return true
	default:
		return false
	}
}

func normalizePaymentMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "cash"
	}
	return method
}

func orderCode(id int64) string {
	return fmt.Sprintf("ORD%06d", id)
}

func (s *Service) clockUTC() time.Time {
	return s.now().UTC()
}
