package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonsec/authcore/internal"
	"github.com/halcyonsec/authcore/internal/rate"
	"github.com/halcyonsec/authcore/internal/stores"
	"github.com/halcyonsec/authcore/jwt"
	"github.com/halcyonsec/authcore/mfa"
	"github.com/halcyonsec/authcore/password"
	"github.com/halcyonsec/authcore/session"
)

// ReuseHandler is notified after a refresh-token reuse has destroyed a
// session. It runs synchronously inside the refresh flow; keep it fast.
type ReuseHandler func(ctx context.Context, userID, sessionID string)

// Engine drives the four authentication flows against one Redis store and
// one user directory. Construct with [New], then call [Engine.Connect]
// before the first flow.
type Engine struct {
	config    Config
	redis     redis.UniversalClient
	directory UserDirectory

	sessions   *session.Store
	limiter    *rate.Limiter
	blacklist  *stores.Blacklist
	mfa        *mfa.Manager
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	metrics    *Metrics

	onReuse ReuseHandler
	clock   func() time.Time

	connected atomic.Bool
}

// New wires an Engine from its parts. It validates configuration and key
// material but performs no IO; the store is first touched by
// [Engine.Connect].
func New(cfg Config, redisClient redis.UniversalClient, directory UserDirectory) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		redis:      redisClient,
		directory:  directory,
		sessions:   session.NewStore(redisClient, cfg.KeyPrefix, cfg.Session.SlidingActivity),
		limiter:    rate.New(redisClient, cfg.KeyPrefix, rate.Config(cfg.RateLimit)),
		blacklist:  stores.NewBlacklist(redisClient, cfg.KeyPrefix),
		mfa:        mfa.NewManager(redisClient, cfg.KeyPrefix, mfa.Config(cfg.MFA)),
		hasher:     hasher,
		jwtManager: jwtManager,
		metrics:    NewMetrics(cfg.Metrics),
		clock:      time.Now,
	}, nil
}

// Connect verifies the session store is reachable and arms the Engine.
// Flows invoked before a successful Connect fail with [ErrEngineNotReady].
func (e *Engine) Connect(ctx context.Context) error {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.connected.Store(true)
	return nil
}

// Ready reports whether Connect has succeeded.
func (e *Engine) Ready() bool {
	return e != nil && e.connected.Load()
}

// SetReuseHandler registers the refresh-reuse callback. Set it before
// Connect; it is not synchronized against in-flight refreshes.
func (e *Engine) SetReuseHandler(fn ReuseHandler) {
	e.onReuse = fn
}

// MetricsSnapshot copies the Engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeCtx bounds one store round-trip. The parent deadline still applies
// when it is sooner.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// storeFault records a store failure and converts it to the uniform
// service-unavailable error. The original error goes to the log only.
func (e *Engine) storeFault(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreFault)
	e.log(ctx).Error("session store fault", "op", op, "error", err)
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
}

// dummyHash is verified against when the account does not exist, so the
// unknown-account path costs one argon2 derivation like every other path.
const dummyHash = "$argon2id$v=19$m=65536,t=2,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login authenticates credentials and mints a session with its token pair.
//
// The lockout counter is keyed by normalized email and consulted before the
// directory, so attempts against unknown accounts are limited identically
// to attempts against real ones. MFA-enabled accounts that present a valid
// password without a code receive the MFARequired result, which issues no
// tokens and records no failed attempt.
func (e *Engine) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if !e.Ready() {
		return nil, ErrEngineNotReady
	}

	email := NormalizeEmail(input.Email)
	now := e.clock()

	rctx, cancel := e.storeCtx(ctx)
	retryAfter, err := e.limiter.Check(rctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, rate.ErrBlocked) {
			e.metricInc(MetricLoginRateLimited)
			e.log(ctx).Warn("login blocked by lockout", "email", email, "retry_after", retryAfter)
			return nil, &RateLimitedError{RetryAfter: retryAfter}
		}
		return nil, e.storeFault(ctx, "ratelimit check", err)
	}

	cred, err := e.directory.FindByEmail(ctx, email)
	if err != nil || cred == nil {
		_, _ = e.hasher.Verify(input.Password, dummyHash)
		return nil, e.failLogin(ctx, email, ErrInvalidCredentials)
	}

	ok, err := e.hasher.Verify(input.Password, cred.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, email, ErrInvalidCredentials)
	}

	if cred.MFAEnabled {
		if input.MFACode == "" {
			e.metricInc(MetricMFARequired)
			return &LoginResult{MFARequired: true, MFAType: "totp"}, nil
		}

		mctx, cancel := e.storeCtx(ctx)
		valid, err := e.mfa.Validate(mctx, cred.UserID, input.MFACode, now)
		cancel()
		if err != nil && !errors.Is(err, mfa.ErrNotEnrolled) {
			return nil, e.storeFault(ctx, "mfa validate", err)
		}
		if !valid {
			e.metricInc(MetricMFAFailure)
			return nil, e.failLogin(ctx, email, ErrMFAInvalid)
		}
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.limiter.RecordSuccess(sctx, email)
	cancel()
	if err != nil {
		return nil, e.storeFault(ctx, "ratelimit reset", err)
	}

	pair, err := e.mintSession(ctx, cred, now)
	if err != nil {
		return nil, err
	}

	if recorder, ok := e.directory.(LoginRecorder); ok {
		if err := recorder.RecordLogin(ctx, cred.UserID, now); err != nil {
			e.log(ctx).Warn("login recorder failed", "user_id", cred.UserID, "error", err)
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.log(ctx).Info("login succeeded", "user_id", cred.UserID)
	return &LoginResult{TokenPair: pair}, nil
}

// failLogin charges one failed attempt and returns cause. A store fault
// while charging outranks the credential failure: the lockout guarantee
// cannot be kept without the counter, so the flow reports unavailability
// instead of a clean rejection.
func (e *Engine) failLogin(ctx context.Context, email string, cause error) error {
	fctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.limiter.RecordFailure(fctx, email); err != nil {
		return e.storeFault(ctx, "ratelimit record", err)
	}
	e.metricInc(MetricLoginFailure)
	e.log(ctx).Info("login rejected", "email", email, "cause", cause.Error())
	return cause
}

// mintSession creates the session record, its refresh-token index entry and
// the signed access token for a verified credential.
func (e *Engine) mintSession(ctx context.Context, cred *Credential, now time.Time) (*TokenPair, error) {
	sessionID := internal.NewSessionID()
	tokenID := uuid.NewString()

	refreshToken, err := internal.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}

	accessToken, expiresAt, err := e.jwtManager.CreateAccess(
		cred.UserID, cred.Email, cred.Role, sessionID, tokenID, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	sess := &session.Session{
		SessionID:       sessionID,
		UserID:          cred.UserID,
		Email:           cred.Email,
		Role:            cred.Role,
		RefreshHash:     internal.HashToken(refreshToken),
		AccessTokenID:   tokenID,
		AccessExpiresAt: expiresAt.Unix(),
		CreatedAt:       now.Unix(),
		LastActivityAt:  now.Unix(),
	}

	cctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.sessions.Create(cctx, sess, e.config.JWT.RefreshTTL); err != nil {
		return nil, e.storeFault(ctx, "session create", err)
	}
	e.metricInc(MetricSessionCreated)

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}
