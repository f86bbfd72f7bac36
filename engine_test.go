package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonsec/authcore/internal"
	"github.com/halcyonsec/authcore/password"
)

const (
	alicePassword = "correct-password-123"
	bobPassword   = "hunter2-but-longer"
)

type testDirectory struct {
	mu       sync.Mutex
	users    map[string]*Credential
	lastUser string
	lastAt   time.Time
}

func (d *testDirectory) FindByEmail(_ context.Context, email string) (*Credential, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cred, ok := d.users[email]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return cred, nil
}

func (d *testDirectory) RecordLogin(_ context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUser = userID
	d.lastAt = at
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	// Keep argon2 cheap; these tests hash on every login attempt.
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func hashPassword(t *testing.T, cfg Config, plain string) string {
	t.Helper()
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	encoded, err := hasher.Hash(plain)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return encoded
}

// newTestEngine builds a connected engine over miniredis with three users:
// alice (plain), bob (TOTP enrolled) and carol (MFA flagged, no secret).
func newTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis, *redis.Client, *testDirectory) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	directory := &testDirectory{users: map[string]*Credential{
		"alice@example.com": {
			UserID:       "u1",
			Email:        "alice@example.com",
			PasswordHash: hashPassword(t, cfg, alicePassword),
			Role:         "admin",
		},
		"bob@example.com": {
			UserID:       "u2",
			Email:        "bob@example.com",
			PasswordHash: hashPassword(t, cfg, bobPassword),
			MFAEnabled:   true,
			Role:         "user",
		},
		"carol@example.com": {
			UserID:       "u3",
			Email:        "carol@example.com",
			PasswordHash: hashPassword(t, cfg, "carols-password-1"),
			MFAEnabled:   true,
			Role:         "user",
		},
	}}

	engine, err := New(cfg, rdb, directory)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := engine.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := engine.EnrollMFA(context.Background(), "u2", "bob@example.com"); err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}

	return engine, mr, rdb, directory
}

func bobCode(t *testing.T, rdb *redis.Client, at time.Time) string {
	t.Helper()
	secret, err := rdb.Get(context.Background(), "mfa:u2").Result()
	if err != nil {
		t.Fatalf("stored secret lookup failed: %v", err)
	}
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("code generation failed: %v", err)
	}
	return code
}

func TestLoginSuccessAndValidate(t *testing.T) {
	engine, _, _, directory := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "Alice@Example.com ", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.MFARequired || result.TokenPair == nil {
		t.Fatalf("expected token pair, got %+v", result)
	}
	pair := result.TokenPair
	if pair.TokenType != "Bearer" || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete token pair: %+v", pair)
	}

	auth, err := engine.Validate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if auth.UserID != "u1" || auth.Email != "alice@example.com" || auth.Role != "admin" {
		t.Fatalf("unexpected identity: %+v", auth)
	}
	if auth.SessionID == "" || auth.TokenID == "" {
		t.Fatalf("missing session linkage: %+v", auth)
	}

	directory.mu.Lock()
	defer directory.mu.Unlock()
	if directory.lastUser != "u1" {
		t.Fatalf("login recorder saw %q, want u1", directory.lastUser)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}

	_, err = engine.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	engine, mr, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// Even the correct password is refused inside the window.
	_, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) || rateErr.RetryAfter <= 0 {
		t.Fatalf("expected retry-after in error, got %#v", err)
	}

	mr.FastForward(15*time.Minute + time.Second)

	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword}); err != nil {
		t.Fatalf("expected login after lockout expiry, got %v", err)
	}
}

func TestLockoutCounterResetsOnSuccess(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword}); err != nil {
		t.Fatalf("expected success at attempt 5, got %v", err)
	}

	// The slate is clean; four more failures may pass before a block.
	for i := 0; i < 4; i++ {
		if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword}); err != nil {
		t.Fatalf("expected success after reset, got %v", err)
	}
}

func TestUnknownAccountsShareLockoutBehavior(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := engine.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "guess"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	_, err := engine.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "guess"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("unknown accounts must lock out identically, got %v", err)
	}
}

func TestMFARequiredBranch(t *testing.T) {
	engine, _, rdb, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "bob@example.com", Password: bobPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired || result.MFAType != "totp" {
		t.Fatalf("expected MFA challenge, got %+v", result)
	}
	if result.TokenPair != nil {
		t.Fatal("MFA challenge must not carry tokens")
	}

	// Same credentials plus the current code completes the login.
	result, err = engine.Login(ctx, LoginInput{
		Email:    "bob@example.com",
		Password: bobPassword,
		MFACode:  bobCode(t, rdb, time.Now()),
	})
	if err != nil {
		t.Fatalf("MFA login failed: %v", err)
	}
	if result.TokenPair == nil {
		t.Fatalf("expected tokens, got %+v", result)
	}
}

func TestMFAWrongCodeCountsTowardLockout(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := engine.Login(ctx, LoginInput{Email: "bob@example.com", Password: bobPassword, MFACode: "000000"})
		if !errors.Is(err, ErrMFAInvalid) {
			t.Fatalf("attempt %d: expected ErrMFAInvalid, got %v", i, err)
		}
	}

	_, err := engine.Login(ctx, LoginInput{Email: "bob@example.com", Password: bobPassword, MFACode: "000000"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected lockout after repeated bad codes, got %v", err)
	}
}

func TestMFAFlaggedWithoutSecretFailsClosed(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Login(context.Background(), LoginInput{
		Email:    "carol@example.com",
		Password: "carols-password-1",
		MFACode:  "123456",
	})
	if !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid for unenrolled account, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	first := result.TokenPair

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.AccessToken == first.AccessToken || second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint fresh tokens")
	}

	if _, err := engine.Validate(ctx, second.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}

	// The rotation retires the session's previous access token.
	_, err = engine.Validate(ctx, first.AccessToken)
	var accessErr *AccessInvalidError
	if !errors.As(err, &accessErr) || accessErr.Reason != ReasonBlacklisted {
		t.Fatalf("expected blacklisted old access token, got %v", err)
	}
}

func TestRefreshReuseDestroysSession(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	var handledUser, handledSession string
	engine.SetReuseHandler(func(_ context.Context, userID, sessionID string) {
		handledUser, handledSession = userID, sessionID
	})

	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	first := result.TokenPair

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	_, err = engine.Refresh(ctx, first.RefreshToken)
	if !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}
	if handledUser != "u1" || handledSession == "" {
		t.Fatalf("reuse handler saw (%q, %q)", handledUser, handledSession)
	}

	// The theft response takes the whole session down with it.
	_, err = engine.Validate(ctx, second.AccessToken)
	if !errors.Is(err, ErrAccessInvalid) {
		t.Fatalf("expected session-wide invalidation, got %v", err)
	}
	_, err = engine.Refresh(ctx, second.RefreshToken)
	if !errors.Is(err, ErrRefreshInvalid) && !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected dead refresh token, got %v", err)
	}
}

func TestRefreshRejectsUnknownTokens(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Refresh(ctx, "garbage"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("malformed token: expected ErrRefreshInvalid, got %v", err)
	}

	neverIssued, err := internal.NewRefreshToken()
	if err != nil {
		t.Fatalf("token mint failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, neverIssued); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("never-issued token: expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	refresh := result.TokenPair.RefreshToken

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(ctx, refresh)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var success, rejected int
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshReuse), errors.Is(err, ErrRefreshInvalid):
			rejected++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one refresh winner, got %d", success)
	}
	if rejected != n-1 {
		t.Fatalf("expected %d rejected refreshes, got %d", n-1, rejected)
	}
}

func TestLogoutRevokesImmediately(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	pair := result.TokenPair

	if _, err := engine.Validate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("pre-logout validate failed: %v", err)
	}
	if err := engine.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// The token still has most of its JWT lifetime left; the blacklist is
	// what kills it.
	_, err = engine.Validate(ctx, pair.AccessToken)
	var accessErr *AccessInvalidError
	if !errors.As(err, &accessErr) || accessErr.Reason != ReasonBlacklisted {
		t.Fatalf("expected blacklisted token, got %v", err)
	}

	// Second logout with the same dead token reports it invalid rather
	// than crashing or double-deleting.
	err = engine.Logout(ctx, pair.AccessToken)
	if !errors.Is(err, ErrAccessInvalid) {
		t.Fatalf("expected ErrAccessInvalid on second logout, got %v", err)
	}

	// The session died with the logout, taking the refresh token along.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected dead refresh token after logout, got %v", err)
	}
}

func TestExpiredAccessTokenReason(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.clock = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	engine.clock = time.Now

	_, err = engine.Validate(ctx, result.TokenPair.AccessToken)
	var accessErr *AccessInvalidError
	if !errors.As(err, &accessErr) || accessErr.Reason != ReasonExpired {
		t.Fatalf("expected expired reason, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	second, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	removed, err := engine.LogoutAll(ctx, "u1")
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d sessions, want 2", removed)
	}

	for _, pair := range []*TokenPair{first.TokenPair, second.TokenPair} {
		_, err := engine.Validate(ctx, pair.AccessToken)
		var accessErr *AccessInvalidError
		if !errors.As(err, &accessErr) || accessErr.Reason != ReasonSessionGone {
			t.Fatalf("expected session-gone reason, got %v", err)
		}
	}
}

func TestStoreFaultIsServiceFailure(t *testing.T) {
	engine, mr, _, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	mr.Close()

	// A valid token must not be accepted or rejected while the store is
	// unreachable; both answers would be guesses.
	_, err = engine.Validate(ctx, result.TokenPair.AccessToken)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("validate during outage: expected ErrStoreUnavailable, got %v", err)
	}
	_, err = engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("login during outage: expected ErrStoreUnavailable, got %v", err)
	}
	_, err = engine.Refresh(ctx, result.TokenPair.RefreshToken)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("refresh during outage: expected ErrStoreUnavailable, got %v", err)
	}
	err = engine.Logout(ctx, result.TokenPair.AccessToken)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("logout during outage: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestEngineNotReadyBeforeConnect(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := New(testConfig(), rdb, &testDirectory{users: map[string]*Credential{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := engine.Login(context.Background(), LoginInput{Email: "a@b.c", Password: "x"}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.Validate(context.Background(), "token"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestMetricsCountFlows(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: alicePassword}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	snapshot := engine.MetricsSnapshot()
	if snapshot.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login success counter = %d, want 1", snapshot.Counters[MetricLoginSuccess])
	}
	if snapshot.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login failure counter = %d, want 1", snapshot.Counters[MetricLoginFailure])
	}
	if snapshot.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("session created counter = %d, want 1", snapshot.Counters[MetricSessionCreated])
	}
}
