package authcore

import (
	"context"
	"errors"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/halcyonsec/authcore/session"
)

// Validate verifies an access token end to end: signature and expiry, then
// the revocation blacklist, then the backing session. A token is only as
// alive as its session; logging out or destroying the session kills every
// token minted for it regardless of remaining JWT lifetime.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.Ready() {
		return nil, ErrEngineNotReady
	}

	if accessToken == "" {
		e.metricInc(MetricValidateFailure)
		return nil, &AccessInvalidError{Reason: ReasonMissing}
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		reason := ReasonMalformed
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			reason = ReasonExpired
		}
		e.log(ctx).Debug("access token rejected", "reason", string(reason))
		return nil, &AccessInvalidError{Reason: reason}
	}

	bctx, cancel := e.storeCtx(ctx)
	revoked, err := e.blacklist.IsRevoked(bctx, claims.ID)
	cancel()
	if err != nil {
		return nil, e.storeFault(ctx, "blacklist check", err)
	}
	if revoked {
		e.metricInc(MetricValidateFailure)
		return nil, &AccessInvalidError{Reason: ReasonBlacklisted}
	}

	gctx, cancel := e.storeCtx(ctx)
	sess, err := e.sessions.Get(gctx, claims.SID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricValidateFailure)
			return nil, &AccessInvalidError{Reason: ReasonSessionGone}
		}
		return nil, e.storeFault(ctx, "session read", err)
	}

	if e.sessions.Sliding() {
		tctx, cancel := e.storeCtx(ctx)
		if err := e.sessions.Touch(tctx, claims.SID, e.clock()); err != nil {
			e.log(ctx).Warn("activity touch failed", "session_id", claims.SID, "error", err)
		}
		cancel()
	}

	e.metricInc(MetricValidateSuccess)
	return &AuthResult{
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      sess.Role,
		SessionID: sess.SessionID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the presented access token and destroys its session. The
// blacklist entry lives exactly as long as the token had left, so the
// revocation set never grows past the set of tokens that could still be
// replayed. A second logout with the same token fails validation, which
// keeps the operation idempotent at the store while still reporting the
// token as dead.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if !e.Ready() {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		reason := ReasonMalformed
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			reason = ReasonExpired
		}
		return &AccessInvalidError{Reason: reason}
	}

	bctx, cancel := e.storeCtx(ctx)
	revoked, err := e.blacklist.IsRevoked(bctx, claims.ID)
	cancel()
	if err != nil {
		return e.storeFault(ctx, "blacklist check", err)
	}
	if revoked {
		return &AccessInvalidError{Reason: ReasonBlacklisted}
	}

	actx, cancel := e.storeCtx(ctx)
	err = e.blacklist.Add(actx, claims.ID, claims.ExpiresAt.Time)
	cancel()
	if err != nil {
		return e.storeFault(ctx, "blacklist add", err)
	}

	dctx, cancel := e.storeCtx(ctx)
	existed, err := e.sessions.Delete(dctx, claims.SID)
	cancel()
	if err != nil {
		return e.storeFault(ctx, "session delete", err)
	}
	if existed {
		e.metricInc(MetricSessionInvalidated)
	}

	e.metricInc(MetricLogout)
	e.log(ctx).Info("logout", "user_id", claims.UID, "session_id", claims.SID)
	return nil
}

// LogoutAll destroys every tracked session for a user and returns how many
// were live. Outstanding access tokens are not individually blacklisted;
// they die at validation when their sessions are found gone.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if !e.Ready() {
		return 0, ErrEngineNotReady
	}

	dctx, cancel := e.storeCtx(ctx)
	removed, err := e.sessions.DeleteAllForUser(dctx, userID)
	cancel()
	if err != nil {
		return removed, e.storeFault(ctx, "session delete all", err)
	}

	for i := 0; i < removed; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.metricInc(MetricLogoutAll)
	e.log(ctx).Info("logout all", "user_id", userID, "sessions", removed)
	return removed, nil
}

// ActiveSessions lists the live session records for a user. IDs tracked in
// the user set whose sessions have since expired are skipped.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if !e.Ready() {
		return nil, ErrEngineNotReady
	}

	lctx, cancel := e.storeCtx(ctx)
	ids, err := e.sessions.ActiveSessionIDs(lctx, userID)
	cancel()
	if err != nil {
		return nil, e.storeFault(ctx, "session list", err)
	}

	out := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		gctx, cancel := e.storeCtx(ctx)
		sess, err := e.sessions.Get(gctx, id)
		cancel()
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			return nil, e.storeFault(ctx, "session read", err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// EnrollMFA generates and stores a TOTP secret for a user and returns the
// otpauth:// provisioning URL. Logins for the account require a code from
// the directory's MFAEnabled flag onward; enrollment itself does not flip
// that flag, the caller's account store does.
func (e *Engine) EnrollMFA(ctx context.Context, userID, accountName string) (string, error) {
	if !e.Ready() {
		return "", ErrEngineNotReady
	}

	mctx, cancel := e.storeCtx(ctx)
	defer cancel()
	url, err := e.mfa.Enroll(mctx, userID, accountName)
	if err != nil {
		return "", e.storeFault(ctx, "mfa enroll", err)
	}
	return url, nil
}

// UnenrollMFA discards a user's TOTP secret.
func (e *Engine) UnenrollMFA(ctx context.Context, userID string) error {
	if !e.Ready() {
		return ErrEngineNotReady
	}

	mctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.mfa.Unenroll(mctx, userID); err != nil {
		return e.storeFault(ctx, "mfa unenroll", err)
	}
	return nil
}
