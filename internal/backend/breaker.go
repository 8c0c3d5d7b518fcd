package backend

import (
	"context"
	"errors"
	"io"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ============================================================================
// CIRCUIT BREAKER DECORATOR
// ============================================================================

// BreakerConfig holds configuration for the backend circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that opens the circuit once
	// MinRequests calls were observed.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// WithBreaker routes every call of b through one circuit breaker. Only
// transport failures count against the circuit; a missing document or a
// rejected password is a successful round trip.
func WithBreaker(b Backend, cfg BreakerConfig, logger *zap.Logger) Backend {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: isBreakerSuccess,
	})

	br := &breaker{cb: cb}
	out := Backend{}
	if b.Accounts != nil {
		out.Accounts = &breakerAccounts{breaker: br, next: b.Accounts}
	}
	if b.Documents != nil {
		out.Documents = &breakerDocuments{breaker: br, next: b.Documents}
	}
	if b.Assets != nil {
		out.Assets = &breakerAssets{breaker: br, next: b.Assets}
	}
	return out
}

func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	switch appErrors.KindOf(err) {
	case appErrors.KindNetwork, appErrors.KindUnavailable, appErrors.KindInternal:
		return false
	default:
		return true
	}
}

type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func breakerCall[T any](b *breaker, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, appErrors.Unavailable("CIRCUIT_OPEN", "Backend temporarily unavailable.").
				WithOp(op).WithCause(err).Build()
		}
		return zero, err
	}
	return res.(T), nil
}

func breakerDo(b *breaker, op string, fn func() error) error {
	_, err := breakerCall(b, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ----------------------------------------------------------------------------
// Capabilities
// ----------------------------------------------------------------------------

type breakerAccounts struct {
	*breaker
	next Accounts
}

func (a *breakerAccounts) CreateAccount(ctx context.Context, email, password, name string) (Account, error) {
	return breakerCall(a.breaker, "CreateAccount", func() (Account, error) {
		return a.next.CreateAccount(ctx, email, password, name)
	})
}

func (a *breakerAccounts) CreateSession(ctx context.Context, email, password string) (Session, error) {
	return breakerCall(a.breaker, "CreateSession", func() (Session, error) {
		return a.next.CreateSession(ctx, email, password)
	})
}

// ResumeSession only swaps the local credential and bypasses the breaker.
func (a *breakerAccounts) ResumeSession(ctx context.Context, token string) error {
	return a.next.ResumeSession(ctx, token)
}

func (a *breakerAccounts) DeleteSession(ctx context.Context) error {
	return breakerDo(a.breaker, "DeleteSession", func() error {
		return a.next.DeleteSession(ctx)
	})
}

func (a *breakerAccounts) GetAccount(ctx context.Context) (Account, error) {
	return breakerCall(a.breaker, "GetAccount", func() (Account, error) {
		return a.next.GetAccount(ctx)
	})
}

type breakerDocuments struct {
	*breaker
	next Documents
}

func (d *breakerDocuments) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	return breakerCall(d.breaker, "GetDocument", func() (Document, error) {
		return d.next.GetDocument(ctx, collection, id)
	})
}

func (d *breakerDocuments) ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	return breakerCall(d.breaker, "ListDocuments", func() ([]Document, error) {
		return d.next.ListDocuments(ctx, collection, q)
	})
}

func (d *breakerDocuments) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	return breakerCall(d.breaker, "CreateDocument", func() (Document, error) {
		return d.next.CreateDocument(ctx, collection, id, data)
	})
}

func (d *breakerDocuments) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	return breakerCall(d.breaker, "UpdateDocument", func() (Document, error) {
		return d.next.UpdateDocument(ctx, collection, id, data)
	})
}

func (d *breakerDocuments) DeleteDocument(ctx context.Context, collection, id string) error {
	return breakerDo(d.breaker, "DeleteDocument", func() error {
		return d.next.DeleteDocument(ctx, collection, id)
	})
}

type breakerAssets struct {
	*breaker
	next Assets
}

func (a *breakerAssets) UploadAsset(ctx context.Context, id, contentType string, body io.Reader) error {
	return breakerDo(a.breaker, "UploadAsset", func() error {
		return a.next.UploadAsset(ctx, id, contentType, body)
	})
}

func (a *breakerAssets) DeleteAsset(ctx context.Context, id string) error {
	return breakerDo(a.breaker, "DeleteAsset", func() error {
		return a.next.DeleteAsset(ctx, id)
	})
}

func (a *breakerAssets) AssetPreviewURL(ctx context.Context, id string) (string, error) {
	return breakerCall(a.breaker, "AssetPreviewURL", func() (string, error) {
		return a.next.AssetPreviewURL(ctx, id)
	})
}
