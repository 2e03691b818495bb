package sdk

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider implements IdentityProvider with swappable funcs.
type fakeProvider struct {
	authorizeURLFunc func(ctx context.Context, req AuthorizeRequest) (string, error)
	exchangeCodeFunc func(ctx context.Context, code string) (*Credentials, *UserIdentity, error)
	checkSessionFunc func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error)
	logoutFunc       func(ctx context.Context, current *Credentials) error
}

func (f *fakeProvider) AuthorizeURL(ctx context.Context, req AuthorizeRequest) (string, error) {
	if f.authorizeURLFunc != nil {
		return f.authorizeURLFunc(ctx, req)
	}
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(req.State), nil
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*Credentials, *UserIdentity, error) {
	if f.exchangeCodeFunc != nil {
		return f.exchangeCodeFunc(ctx, code)
	}
	return testCredentials("org_abc"), &UserIdentity{SubjectID: "user_1", Email: "doc@clinic.example"}, nil
}

func (f *fakeProvider) CheckSession(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
	if f.checkSessionFunc != nil {
		return f.checkSessionFunc(ctx, current)
	}
	if current == nil {
		return nil, nil, newError(KindSessionExpired, "no session established", nil)
	}
	return current, &UserIdentity{SubjectID: "user_1", Email: "doc@clinic.example"}, nil
}

func (f *fakeProvider) Logout(ctx context.Context, current *Credentials) error {
	if f.logoutFunc != nil {
		return f.logoutFunc(ctx, current)
	}
	return nil
}

func testCredentials(orgID string) *Credentials {
	claims := jwt.MapClaims{
		"sub":         "user_1",
		"permissions": []string{"read:patients", "write:prescriptions"},
	}
	if orgID != "" {
		claims["org_id"] = orgID
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		panic(err)
	}
	return &Credentials{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func testConfig(orgID string) Config {
	cfg := Config{
		Issuer:          "https://idp.example.com",
		ClientID:        "client_1",
		Endpoint:        "https://api.example.com/clinical",
		OrganizationID:  orgID,
		RefreshInterval: time.Minute,
		RefetchDelay:    time.Second,
	}
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}

func newTestSessionManager(orgID string, provider *fakeProvider, clk clock.Clock) *SessionManager {
	cfg := testConfig(orgID)
	decoder := NewClaimsDecoder(cfg.TenantClaim, cfg.PermissionsClaim)
	return newSessionManager(cfg, provider, decoder, nil, clk, testLogger())
}

// loginThroughRedirect drives a full login for tests that need an
// established session.
func loginThroughRedirect(t *testing.T, m *SessionManager) {
	t.Helper()
	authorizeURL, err := m.Login(context.Background(), LoginOptions{ReturnTo: "/app"})
	require.NoError(t, err)
	state := stateParam(t, authorizeURL)
	returnTo := m.HandleRedirect(context.Background(), "https://app.example.com/callback?code=c1&state="+state)
	require.Equal(t, "/app", returnTo)
}

func stateParam(t *testing.T, authorizeURL string) string {
	t.Helper()
	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}

func TestLoginThroughRedirectBindsSession(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())
	loginThroughRedirect(t, m)

	snap := m.Snapshot()
	assert.True(t, snap.Authenticated)
	assert.True(t, snap.OrgBound)
	assert.Equal(t, "org_abc", snap.TenantID)
	assert.Equal(t, "user_1", snap.Identity.SubjectID)
	assert.True(t, snap.HasPermission("read:patients"))
	assert.False(t, snap.HasPermission("admin:everything"))
	assert.Nil(t, snap.Err)
	assert.False(t, snap.Loading)
}

func TestHandleRedirectTenantMismatch(t *testing.T) {
	m := newTestSessionManager("org_expected", &fakeProvider{}, clock.NewMock())
	loginThroughRedirect(t, m)

	snap := m.Snapshot()
	assert.True(t, snap.Authenticated)
	assert.False(t, snap.OrgBound, "identity from org_abc must not bind to org_expected")
	require.NotNil(t, snap.Err)
	assert.Equal(t, KindNotOrgMember, snap.Err.Kind)
}

func TestHandleRedirectProviderError(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())

	returnTo := m.HandleRedirect(context.Background(),
		"https://app.example.com/callback?error=access_denied&error_description="+
			url.QueryEscape("invitation not found or already used"))

	assert.Empty(t, returnTo)
	snap := m.Snapshot()
	assert.False(t, snap.Authenticated)
	require.NotNil(t, snap.Err, "redirect failures surface on the session, never as a panic or return")
	assert.Equal(t, KindAuthenticationFailed, snap.Err.Kind)
	assert.Equal(t, "invitation not found or already used", snap.Err.Description)
	assert.False(t, snap.Loading, "the loading slot is released on the error path")
}

func TestHandleRedirectUnknownState(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())

	returnTo := m.HandleRedirect(context.Background(), "https://app.example.com/callback?code=c1&state=forged")
	assert.Empty(t, returnTo)
	snap := m.Snapshot()
	require.NotNil(t, snap.Err)
	assert.Equal(t, KindAuthenticationFailed, snap.Err.Kind)
}

func TestCheckSessionFailureLeavesPriorState(t *testing.T) {
	provider := &fakeProvider{}
	m := newTestSessionManager("org_abc", provider, clock.NewMock())
	loginThroughRedirect(t, m)
	before := m.Snapshot()

	// A transient transport failure must not tear the session down.
	provider.checkSessionFunc = func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
		return nil, nil, newError(KindNetworkError, "connection reset", nil)
	}
	m.CheckSession(context.Background())

	after := m.Snapshot()
	assert.True(t, after.Authenticated, "prior valid state is preserved")
	assert.Equal(t, before.Identity, after.Identity)
	assert.Equal(t, before.Permissions, after.Permissions)
	require.NotNil(t, after.Err)
	assert.Equal(t, KindNetworkError, after.Err.Kind)
	assert.False(t, after.Loading, "the loading slot is released exactly once")
}

func TestCheckSessionExpiryClearsSession(t *testing.T) {
	provider := &fakeProvider{}
	m := newTestSessionManager("org_abc", provider, clock.NewMock())
	loginThroughRedirect(t, m)

	provider.checkSessionFunc = func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
		return nil, nil, newError(KindSessionExpired, "refresh token revoked", nil)
	}
	m.CheckSession(context.Background())

	snap := m.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.Identity, "no partial identity survives an expired session")
	require.NotNil(t, snap.Err)
	assert.Equal(t, KindSessionExpired, snap.Err.Kind)
}

func TestLoadingCountPairing(t *testing.T) {
	provider := &fakeProvider{}
	block := make(chan struct{})
	started := make(chan struct{}, 16)
	provider.checkSessionFunc = func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
		started <- struct{}{}
		<-block
		return testCredentials("org_abc"), &UserIdentity{SubjectID: "user_1"}, nil
	}
	m := newTestSessionManager("org_abc", provider, clock.NewMock())
	m.creds = testCredentials("org_abc")

	const overlapping = 5
	var wg sync.WaitGroup
	for i := 0; i < overlapping; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CheckSession(context.Background())
		}()
	}
	for i := 0; i < overlapping; i++ {
		<-started
	}
	assert.True(t, m.Snapshot().Loading, "loading stays true while any call is outstanding")
	assert.EqualValues(t, overlapping, m.loadingCount.Load())

	close(block)
	wg.Wait()
	assert.EqualValues(t, 0, m.loadingCount.Load(), "every increment has exactly one matching decrement")
	assert.False(t, m.Snapshot().Loading)
}

func TestLoadingCountReleasedOnError(t *testing.T) {
	provider := &fakeProvider{
		checkSessionFunc: func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
			return nil, nil, fmt.Errorf("provider exploded")
		},
	}
	m := newTestSessionManager("org_abc", provider, clock.NewMock())
	m.creds = testCredentials("org_abc")

	for i := 0; i < 3; i++ {
		m.CheckSession(context.Background())
	}
	assert.EqualValues(t, 0, m.loadingCount.Load())
}

func TestLogoutDuringCheckSessionIsNotResurrected(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	provider := &fakeProvider{}
	provider.checkSessionFunc = func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
		close(started)
		<-block
		return testCredentials("org_abc"), &UserIdentity{SubjectID: "user_1"}, nil
	}
	store := &memCredentialStore{creds: testCredentials("org_abc")}
	cfg := testConfig("org_abc")
	m := newSessionManager(cfg, provider, NewClaimsDecoder(cfg.TenantClaim, cfg.PermissionsClaim), store, clock.NewMock(), testLogger())
	m.creds = testCredentials("org_abc")

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.CheckSession(context.Background())
	}()
	<-started
	m.Logout(context.Background())
	close(block)
	<-done

	snap := m.Snapshot()
	assert.False(t, snap.Authenticated,
		"a check that started before logout must not re-establish the session")
	assert.Nil(t, snap.Identity)
	_, ok := m.currentToken()
	assert.False(t, ok)
	_, err := store.LoadCredentials()
	require.Error(t, err, "credentials deleted by logout stay deleted")
	assert.EqualValues(t, 0, m.loadingCount.Load())
}

func TestLoginPendingStateIsBounded(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())
	ctx := context.Background()

	firstURL, err := m.Login(ctx, LoginOptions{ReturnTo: "/first"})
	require.NoError(t, err)
	firstState := stateParam(t, firstURL)

	// Abandon enough logins to evict the first one.
	for i := 0; i < maxPendingLogins; i++ {
		_, err := m.Login(ctx, LoginOptions{ReturnTo: "/abandoned"})
		require.NoError(t, err)
	}

	m.mu.Lock()
	pendingLen := len(m.pending)
	orderLen := len(m.pendingOrder)
	m.mu.Unlock()
	assert.Equal(t, maxPendingLogins, pendingLen)
	assert.Equal(t, maxPendingLogins, orderLen)

	returnTo := m.HandleRedirect(ctx, "https://app.example.com/callback?code=c1&state="+firstState)
	assert.Empty(t, returnTo, "the evicted login's callback is rejected as unknown")
	require.NotNil(t, m.Snapshot().Err)
	assert.Equal(t, KindAuthenticationFailed, m.Snapshot().Err.Kind)
}

func TestLogoutClearsSessionAndBumpsGeneration(t *testing.T) {
	var loggedOut atomic.Bool
	var cacheCleared atomic.Bool
	provider := &fakeProvider{
		logoutFunc: func(ctx context.Context, current *Credentials) error {
			loggedOut.Store(true)
			return nil
		},
	}
	m := newTestSessionManager("org_abc", provider, clock.NewMock())
	m.onLogout = func() { cacheCleared.Store(true) }
	loginThroughRedirect(t, m)
	before := m.Snapshot()

	m.Logout(context.Background())

	snap := m.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, snap.Permissions)
	assert.Equal(t, before.Generation+1, snap.Generation,
		"consumers detect that in-flight reads started under an older session")
	assert.True(t, loggedOut.Load())
	assert.True(t, cacheCleared.Load())
	assert.EqualValues(t, 0, m.loadingCount.Load())

	_, ok := m.currentToken()
	assert.False(t, ok)
}

func TestBackgroundRefresh(t *testing.T) {
	var checks atomic.Int64
	provider := &fakeProvider{}
	provider.checkSessionFunc = func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
		checks.Add(1)
		return current, &UserIdentity{SubjectID: "user_1"}, nil
	}
	mock := clock.NewMock()
	m := newTestSessionManager("org_abc", provider, mock)
	loginThroughRedirect(t, m)
	base := checks.Load()

	m.StartRefresh()
	mock.Add(m.cfg.RefreshInterval)
	require.Eventually(t, func() bool { return checks.Load() == base+1 },
		time.Second, 5*time.Millisecond)
	mock.Add(m.cfg.RefreshInterval)
	require.Eventually(t, func() bool { return checks.Load() == base+2 },
		time.Second, 5*time.Millisecond)

	m.Close()
	mock.Add(10 * m.cfg.RefreshInterval)
	assert.EqualValues(t, base+2, checks.Load(), "the ticker must not fire after teardown")
}

func TestBackgroundRefreshSkipsUnauthenticated(t *testing.T) {
	var checks atomic.Int64
	provider := &fakeProvider{
		checkSessionFunc: func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
			checks.Add(1)
			return nil, nil, newError(KindSessionExpired, "no session", nil)
		},
	}
	mock := clock.NewMock()
	m := newTestSessionManager("org_abc", provider, mock)
	defer m.Close()

	m.StartRefresh()
	mock.Add(10 * m.cfg.RefreshInterval)
	assert.EqualValues(t, 0, checks.Load(), "no refresh without a session unless auto-login is set")
}

func TestSubscribeNotifiesAndUnsubscribes(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())

	var mu sync.Mutex
	var last Session
	var events int
	unsubscribe := m.Subscribe(func(s Session) {
		mu.Lock()
		defer mu.Unlock()
		last = s
		events++
	})

	loginThroughRedirect(t, m)
	mu.Lock()
	require.Greater(t, events, 0)
	assert.True(t, last.Authenticated)
	seen := events
	mu.Unlock()

	unsubscribe()
	m.Logout(context.Background())
	mu.Lock()
	assert.Equal(t, seen, events, "no notifications after unsubscribe")
	mu.Unlock()
}

func TestInitializeRunsOnce(t *testing.T) {
	var checks atomic.Int64
	provider := &fakeProvider{
		checkSessionFunc: func(ctx context.Context, current *Credentials) (*Credentials, *UserIdentity, error) {
			checks.Add(1)
			return current, &UserIdentity{SubjectID: "user_1"}, nil
		},
	}
	store := &memCredentialStore{creds: testCredentials("org_abc")}
	cfg := testConfig("org_abc")
	m := newSessionManager(cfg, provider, NewClaimsDecoder(cfg.TenantClaim, cfg.PermissionsClaim), store, clock.NewMock(), testLogger())

	m.Initialize(context.Background())
	m.Initialize(context.Background())
	assert.EqualValues(t, 1, checks.Load())
	assert.True(t, m.Snapshot().Authenticated)
}

func TestInitializeWithoutStoredCredential(t *testing.T) {
	m := newTestSessionManager("org_abc", &fakeProvider{}, clock.NewMock())
	m.Initialize(context.Background())

	snap := m.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.Err)
}

// memCredentialStore is an in-memory CredentialStore.
type memCredentialStore struct {
	mu    sync.Mutex
	creds *Credentials
}

func (s *memCredentialStore) SaveCredentials(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	return nil
}

func (s *memCredentialStore) LoadCredentials() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, fmt.Errorf("not logged in")
	}
	return s.creds, nil
}

func (s *memCredentialStore) DeleteCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
