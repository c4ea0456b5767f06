// Package engine runs billable service calls: resolve the data, debit the
// caller, write the audit row, emit notifications. The order is fixed and the
// money only moves when data exists.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	catalogdomain "github.com/veriplex/veriplex/internal/catalog/domain"
	catalogservice "github.com/veriplex/veriplex/internal/catalog/service"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	ledgerdomain "github.com/veriplex/veriplex/internal/ledger/domain"
	"github.com/veriplex/veriplex/internal/notifier"
	"github.com/veriplex/veriplex/internal/resolver"
	usagedomain "github.com/veriplex/veriplex/internal/usagelog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrMissingParameter  = errors.New("missing_required_parameter")
	ErrServiceNotAllowed = errors.New("service_not_allowed")
	ErrUsageWriteFailed  = errors.New("usage_write_failed")
)

// Resolver is the slice of the fallback resolver the engine needs.
type Resolver interface {
	Resolve(ctx context.Context, dom config.Domain, key string, params map[string]string) (*resolver.Resolution, error)
}

// Caller is the authenticated identity executing a service, as established
// by API key auth.
type Caller struct {
	UserID         string
	APIKeyID       int64
	ServiceID      int64
	SubscriptionID int64
	Scopes         []string
}

// mayCall reports whether this caller's key grants access to svc: the key's
// bound service, any slug in its scopes, or everything when the key carries
// neither binding (a pay-as-you-go account key).
func (c Caller) mayCall(svc *catalogdomain.Service) bool {
	if c.ServiceID == svc.ID {
		return true
	}
	for _, scope := range c.Scopes {
		if scope == svc.Slug {
			return true
		}
	}
	return c.ServiceID == 0 && len(c.Scopes) == 0
}

// Result is the success envelope for one executed call.
type Result struct {
	Data             datatypes.JSONMap `json:"data"`
	DataSource       string            `json:"data_source"`
	Stale            bool              `json:"stale"`
	CreditsDeducted  float64           `json:"credits_deducted"`
	CreditsRemaining float64           `json:"credits_remaining"`
	LatencyMs        int64             `json:"latency_ms"`
}

type EngineParam struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Directory catalogdomain.Directory
	Registry  *Registry
	Resolver  Resolver
	Ledger    ledgerdomain.Ledger
	Recorder  usagedomain.Recorder
	Notifier  notifier.Notifier
	Clock     clock.Clock
}

type Engine struct {
	log       *zap.Logger
	directory catalogdomain.Directory
	registry  *Registry
	resolver  Resolver
	ledger    ledgerdomain.Ledger
	recorder  usagedomain.Recorder
	notifier  notifier.Notifier
	clock     clock.Clock
	timeout   time.Duration
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		log:       p.Log.Named("engine"),
		directory: p.Directory,
		registry:  p.Registry,
		resolver:  p.Resolver,
		ledger:    p.Ledger,
		recorder:  p.Recorder,
		notifier:  p.Notifier,
		clock:     p.Clock,
		timeout:   p.Cfg.ExecuteTimeout,
	}
}

// Execute runs one billable call end to end under the execute deadline.
//
// Failure at any stage short-circuits the rest, with two deliberate
// asymmetries: a failed resolution is still audit-logged (with nothing
// billed), and a billing rejection discards the resolved data so nothing
// unpaid ever leaves the system.
func (e *Engine) Execute(ctx context.Context, caller Caller, slug string, params map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()

	svc, err := e.directory.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	h, ok := e.registry.Lookup(svc.Slug)
	if !ok {
		// A catalog row without a handler is an operator mistake, not
		// a caller one; hide it behind the same not-found.
		e.log.Error("catalog service has no handler", zap.String("slug", svc.Slug))
		return nil, catalogservice.ErrServiceNotFound
	}

	audit := &usagedomain.UsageRecord{
		UserID:         caller.UserID,
		APIKeyID:       caller.APIKeyID,
		ServiceID:      svc.ID,
		SubscriptionID: caller.SubscriptionID,
		Endpoint:       "/v1/execute/" + svc.Slug,
		RequestParams:  paramsJSON(params),
		CreatedAt:      e.clock.Now(),
	}

	if !caller.mayCall(svc) {
		err := fmt.Errorf("%w: %s", ErrServiceNotAllowed, svc.Slug)
		e.recordOutcome(ctx, audit, err, start)
		return nil, err
	}

	key, err := h.Key(params)
	if err != nil {
		e.recordOutcome(ctx, audit, err, start)
		return nil, err
	}

	res, err := e.resolver.Resolve(ctx, h.Domain, key, params)
	if err != nil {
		e.recordOutcome(ctx, audit, err, start)
		return nil, err
	}
	audit.DataSource = res.Source

	receipt, err := e.ledger.CheckAndDebit(ctx, ledgerdomain.DebitRequest{
		UserID:         caller.UserID,
		SubscriptionID: caller.SubscriptionID,
		ServiceID:      svc.ID,
		Amount:         svc.PricePerCall,
	})
	if err != nil {
		e.recordOutcome(ctx, audit, err, start)
		return nil, err
	}

	audit.Success = true
	audit.ResponseStatus = 200
	audit.LatencyMs = time.Since(start).Milliseconds()
	audit.CreditsDeducted = receipt.Amount
	audit.CreditsBefore = receipt.CreditsBefore
	audit.CreditsAfter = receipt.CreditsAfter
	if err := e.recorder.Record(ctx, audit); err != nil {
		// The debit already happened; a lost audit row is an incident,
		// not something to retry silently.
		e.log.Error("usage record write failed",
			zap.String("slug", svc.Slug),
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUsageWriteFailed, err)
	}

	now := e.clock.Now()
	e.notifier.Publish(caller.UserID,
		notifier.NewAPICallEvent(caller.UserID, svc.Slug, res.Source, true, receipt.Amount, now))
	e.notifier.Publish(caller.UserID,
		notifier.NewBalanceUpdateEvent(caller.UserID, receipt.CreditsBefore, receipt.CreditsAfter, now))

	return &Result{
		Data:             h.Apply(res.Payload),
		DataSource:       res.Source,
		Stale:            res.Stale,
		CreditsDeducted:  receipt.Amount,
		CreditsRemaining: receipt.CreditsAfter,
		LatencyMs:        audit.LatencyMs,
	}, nil
}

// recordOutcome writes the audit row for a failed attempt. Nothing was
// billed, so a failed write here only logs.
func (e *Engine) recordOutcome(ctx context.Context, audit *usagedomain.UsageRecord, cause error, start time.Time) {
	audit.Success = false
	audit.ResponseStatus = statusFor(cause)
	audit.LatencyMs = time.Since(start).Milliseconds()
	if err := e.recorder.Record(ctx, audit); err != nil {
		e.log.Error("usage record write failed",
			zap.String("endpoint", audit.Endpoint),
			zap.Error(err),
		)
	}
}

// statusFor maps a pipeline error to the status stored on the audit row.
// The HTTP layer keeps its own mapping; this one exists so the audit trail
// is meaningful even for calls that never came through HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return 400
	case errors.Is(err, resolver.ErrNotFound):
		return 404
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return 402
	case errors.Is(err, ErrServiceNotAllowed),
		errors.Is(err, ledgerdomain.ErrServiceMismatch):
		return 403
	case errors.Is(err, ledgerdomain.ErrSubscriptionInactive),
		errors.Is(err, ledgerdomain.ErrSubscriptionExpired):
		return 403
	case errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrSubscriptionNotFound):
		return 403
	default:
		return 500
	}
}

func paramsJSON(params map[string]string) datatypes.JSONMap {
	m := make(datatypes.JSONMap, len(params))
	for k, v := range params {
		m[k] = v
	}
	return m
}
