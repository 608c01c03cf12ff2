package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/auth"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnauthenticated indicates the request carried no ticket.
	ErrUnauthenticated = errors.New("users: ticket required")
	// ErrMalformedTicket indicates the ticket contains bytes that cannot appear in a ticket.
	ErrMalformedTicket = errors.New("users: malformed ticket")
	// ErrBadTicket indicates a ticket that is not a numeric identity while verification is bypassed.
	ErrBadTicket = errors.New("users: ticket is not a numeric identity")

	errMissingVerifier = errors.New("users: verifier required unless verification is skipped")
)

// TicketVerifier exchanges a raw ticket for an identity with the external authority.
type TicketVerifier interface {
	Verify(ctx context.Context, ticket string) (auth.SteamID, error)
}

// ResolverConfig describes the dependencies required for ticket resolution.
type ResolverConfig struct {
	Verifier         TicketVerifier
	SkipVerification bool
	Logger           *zap.Logger
	Metrics          *metrics.Registry
}

// Resolver maps raw tickets to identities, caching every successful verification
// under the raw ticket string. Entries never expire and failures are never cached.
type Resolver struct {
	verifier         TicketVerifier
	skipVerification bool
	logger           *zap.Logger
	metrics          *metrics.Registry
	cache            sync.Map
	inflight         singleflight.Group
}

// NewResolver constructs a resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Verifier == nil && !cfg.SkipVerification {
		return nil, errMissingVerifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		verifier:         cfg.Verifier,
		skipVerification: cfg.SkipVerification,
		logger:           logger,
		metrics:          cfg.Metrics,
	}, nil
}

// Resolve returns the identity for the ticket, consulting the cache before the verifier.
func (r *Resolver) Resolve(ctx context.Context, ticket string) (auth.SteamID, error) {
	if ticket == "" {
		return 0, ErrUnauthenticated
	}
	if !isPrintableASCII(ticket) {
		r.metrics.ObserveIdentityLookup(metrics.LookupInvalid)
		return 0, ErrMalformedTicket
	}

	if cached, ok := r.cache.Load(ticket); ok {
		if steamID, ok := cached.(auth.SteamID); ok {
			r.metrics.ObserveIdentityLookup(metrics.LookupCacheHit)
			return steamID, nil
		}
	}

	// The shared verification runs detached from any single caller, so one
	// caller giving up never fails the others waiting on the same ticket.
	// It stays bounded by the verifier's own timeout.
	results := r.inflight.DoChan(ticket, func() (any, error) {
		if cached, ok := r.cache.Load(ticket); ok {
			return cached, nil
		}
		steamID, verifyErr := r.verify(context.WithoutCancel(ctx), ticket)
		if verifyErr != nil {
			return auth.SteamID(0), verifyErr
		}
		r.cache.Store(ticket, steamID)
		return steamID, nil
	})

	select {
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", auth.ErrUpstreamUnavailable, ctx.Err())
		r.observeFailure(err)
		return 0, err
	case result := <-results:
		if result.Err != nil {
			r.observeFailure(result.Err)
			return 0, result.Err
		}
		steamID, ok := result.Val.(auth.SteamID)
		if !ok {
			err := fmt.Errorf("%w: unexpected identity type %T", auth.ErrUpstreamUnavailable, result.Val)
			r.observeFailure(err)
			return 0, err
		}
		r.metrics.ObserveIdentityLookup(metrics.LookupVerified)
		return steamID, nil
	}
}

func (r *Resolver) verify(ctx context.Context, ticket string) (auth.SteamID, error) {
	if r.skipVerification {
		steamID, err := auth.ParseSteamID(ticket)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadTicket, err)
		}
		return steamID, nil
	}
	return r.verifier.Verify(ctx, ticket)
}

func (r *Resolver) observeFailure(err error) {
	switch {
	case errors.Is(err, auth.ErrTicketRejected):
		r.metrics.ObserveIdentityLookup(metrics.LookupRejected)
		r.logger.Info("ticket rejected", zap.Error(err))
	case errors.Is(err, ErrBadTicket):
		r.metrics.ObserveIdentityLookup(metrics.LookupInvalid)
		r.logger.Info("ticket is not a numeric identity", zap.Error(err))
	default:
		r.metrics.ObserveIdentityLookup(metrics.LookupUnavailable)
		r.logger.Warn("ticket verification failed", zap.Error(err))
	}
}

func isPrintableASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 0x21 || value[i] > 0x7e {
			return false
		}
	}
	return true
}
