package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyonsec/authcore/internal"
	"github.com/halcyonsec/authcore/session"
)

// Refresh redeems a refresh token for a fresh token pair and invalidates
// the presented token in the same step.
//
// The rotation itself is a single compare-and-swap in the store, so when the
// same token is redeemed concurrently exactly one caller wins. The losers,
// and any later redemption of an already-spent token, hit the reuse branch:
// the whole session is destroyed, the session's outstanding access token is
// blacklisted, and [ErrRefreshReuse] comes back.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.Ready() {
		return nil, ErrEngineNotReady
	}

	if err := internal.CheckRefreshTokenShape(refreshToken); err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	now := e.clock()
	providedHash := internal.HashToken(refreshToken)

	ictx, cancel := e.storeCtx(ctx)
	sessionID, err := e.sessions.FindSessionIDByRefreshHash(ictx, providedHash)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrRefreshNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, e.storeFault(ctx, "refresh index lookup", err)
	}

	gctx, cancel := e.storeCtx(ctx)
	sess, err := e.sessions.Get(gctx, sessionID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, e.storeFault(ctx, "session read", err)
	}

	// Mint the replacements before the swap; a losing racer throws its
	// candidate tokens away unissued.
	nextRefresh, err := internal.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}
	nextTokenID := uuid.NewString()
	accessToken, expiresAt, err := e.jwtManager.CreateAccess(
		sess.UserID, sess.Email, sess.Role, sessionID, nextTokenID, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	rctx, cancel := e.storeCtx(ctx)
	outcome, err := e.sessions.Rotate(
		rctx, sessionID, providedHash, internal.HashToken(nextRefresh),
		nextTokenID, expiresAt, now, e.config.JWT.RefreshTTL)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshNotFound), errors.Is(err, session.ErrRefreshExpired):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		case errors.Is(err, session.ErrRefreshReuse):
			return nil, e.handleReuse(ctx, sessionID, outcome)
		default:
			return nil, e.storeFault(ctx, "refresh rotate", err)
		}
	}

	e.revokeRotatedAccess(ctx, outcome)

	e.metricInc(MetricRefreshSuccess)
	e.log(ctx).Info("refresh rotated", "user_id", sess.UserID, "session_id", sessionID)

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: nextRefresh,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}

// handleReuse finishes the reuse branch after the store has destroyed the
// session: the orphaned access token is blacklisted and the registered
// handler is told whose session died. Blacklisting must stick; if the store
// cannot take the entry the caller gets unavailability, not the reuse error.
func (e *Engine) handleReuse(ctx context.Context, sessionID string, outcome *session.RotateOutcome) error {
	e.metricInc(MetricRefreshReuse)
	e.metricInc(MetricSessionInvalidated)

	userID := ""
	if outcome != nil {
		userID = outcome.UserID
		if outcome.OldAccessTokenID != "" && outcome.OldAccessExpiresAt.After(e.clock()) {
			bctx, cancel := e.storeCtx(ctx)
			err := e.blacklist.Add(bctx, outcome.OldAccessTokenID, outcome.OldAccessExpiresAt)
			cancel()
			if err != nil {
				return e.storeFault(ctx, "reuse blacklist", err)
			}
		}
	}

	e.log(ctx).Warn("refresh token reuse detected, session destroyed",
		"user_id", userID, "session_id", sessionID)

	if e.onReuse != nil {
		e.onReuse(ctx, userID, sessionID)
	}
	return ErrRefreshReuse
}

// revokeRotatedAccess retires the access token the session held before the
// rotation. The token was legitimately issued and dies on its own expiry,
// so a store fault here is logged and tolerated rather than failing the
// rotation that already committed.
func (e *Engine) revokeRotatedAccess(ctx context.Context, outcome *session.RotateOutcome) {
	if outcome == nil || outcome.OldAccessTokenID == "" {
		return
	}
	if !outcome.OldAccessExpiresAt.After(e.clock()) {
		return
	}

	bctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.blacklist.Add(bctx, outcome.OldAccessTokenID, outcome.OldAccessExpiresAt); err != nil {
		e.metricInc(MetricStoreFault)
		e.log(ctx).Warn("failed to blacklist rotated access token",
			"token_id", outcome.OldAccessTokenID, "error", err)
	}
}
