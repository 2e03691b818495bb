package sdk

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Session is the committed authentication state, exposed to host surfaces
// as a value snapshot. Fields are only ever replaced wholesale by
// SessionManager operations; consumers never mutate them.
type Session struct {
	Identity      *UserIdentity
	TenantID      string
	Permissions   []string
	Authenticated bool
	OrgBound      bool
	Err           *Error

	// Loading is true while at least one session operation is outstanding.
	Loading bool

	// Generation increments on logout. A consumer holding a response from a
	// read started under an earlier generation re-validates before
	// rendering it.
	Generation uint64
}

// HasPermission reports whether the session carries the named permission.
func (s Session) HasPermission(permission string) bool {
	return slices.Contains(s.Permissions, permission)
}

// LoginOptions configures a redirect-based login.
type LoginOptions struct {
	// ReturnTo is the application route to resume after the provider
	// redirects back. Returned by HandleRedirect.
	ReturnTo string
	// Invitation is an optional organization invitation ticket forwarded to
	// the provider.
	Invitation string
}

// SessionManager owns the authentication state machine: login, logout,
// redirect-callback handling and periodic session refresh. All session
// mutation happens inside its operations; host surfaces observe snapshots.
type SessionManager struct {
	cfg       Config
	provider  IdentityProvider
	decoder   *ClaimsDecoder
	credStore CredentialStore
	clk       clock.Clock
	logger    *slog.Logger

	// onLogout lets the SDK clear the data-store cache without the session
	// manager holding a reference to it.
	onLogout func()

	// loadingCount is the reference-counted loading flag: every operation
	// acquires on entry and releases exactly once on every exit path.
	loadingCount atomic.Int64

	mu           sync.Mutex
	creds        *Credentials
	session      Session
	pending      map[string]string // login state param -> returnTo
	pendingOrder []string          // insertion order, oldest first
	initRan      bool

	subMu   sync.Mutex
	subs    map[int]func(Session)
	nextSub int

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

func newSessionManager(cfg Config, provider IdentityProvider, decoder *ClaimsDecoder, credStore CredentialStore, clk clock.Clock, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		provider:  provider,
		decoder:   decoder,
		credStore: credStore,
		clk:       clk,
		logger:    logger,
		onLogout:  func() {},
		pending:   make(map[string]string),
		subs:      make(map[int]func(Session)),
	}
}

// Snapshot returns the current session state. Loading is derived from the
// outstanding-operation count at call time.
func (m *SessionManager) Snapshot() Session {
	m.mu.Lock()
	snap := m.session
	m.mu.Unlock()
	snap.Loading = m.loadingCount.Load() > 0
	return snap
}

// Subscribe registers fn to run on every session change and returns the
// matching unsubscribe. fn receives a snapshot, never shared state.
func (m *SessionManager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *SessionManager) notify() {
	snap := m.Snapshot()
	m.subMu.Lock()
	fns := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// acquireLoading increments the loading count and returns its paired
// release. The release is idempotent, so deferred and explicit release on
// the same path cannot drive the count negative.
func (m *SessionManager) acquireLoading() func() {
	m.loadingCount.Add(1)
	m.notify()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.loadingCount.Add(-1)
			m.notify()
		})
	}
}

// Initialize checks for a previously stored credential and, when one
// exists, validates it via CheckSession. Runs at most once per instance.
func (m *SessionManager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initRan {
		m.mu.Unlock()
		return
	}
	m.initRan = true
	m.mu.Unlock()

	if m.credStore == nil {
		return
	}
	creds, err := m.credStore.LoadCredentials()
	if err != nil || creds == nil {
		return
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.CheckSession(ctx)
}

// maxPendingLogins bounds the pending-login map: logins the provider never
// redirects back for would otherwise accumulate for the instance lifetime.
const maxPendingLogins = 16

// Login begins a redirect-based login and returns the provider authorize
// URL for the host to navigate to. The flow completes in HandleRedirect.
func (m *SessionManager) Login(ctx context.Context, opts LoginOptions) (string, error) {
	release := m.acquireLoading()
	defer release()
	generation := m.generation()

	state := uuid.NewString()
	authorizeURL, err := m.provider.AuthorizeURL(ctx, AuthorizeRequest{
		State:          state,
		OrganizationID: m.cfg.OrganizationID,
		Invitation:     opts.Invitation,
	})
	if err != nil {
		m.setError(generation, newError(KindAuthenticationFailed, "building authorize URL failed", err))
		return "", err
	}

	m.mu.Lock()
	for len(m.pending) >= maxPendingLogins {
		oldest := m.pendingOrder[0]
		m.pendingOrder = m.pendingOrder[1:]
		delete(m.pending, oldest)
	}
	m.pending[state] = opts.ReturnTo
	m.pendingOrder = append(m.pendingOrder, state)
	m.mu.Unlock()
	return authorizeURL, nil
}

// HandleRedirect parses the provider's redirect callback. On success the
// session is established and the login's returnTo route is returned for
// application-level navigation. Failures are classified into the session's
// Err field rather than returned, so host surfaces render them reactively.
func (m *SessionManager) HandleRedirect(ctx context.Context, callbackURL string) (returnTo string) {
	release := m.acquireLoading()
	defer release()
	generation := m.generation()

	parsed, err := url.Parse(callbackURL)
	if err != nil {
		m.setError(generation, newError(KindAuthenticationFailed, "malformed callback URL", err))
		return ""
	}
	query := parsed.Query()

	if errCode := query.Get("error"); errCode != "" {
		m.setError(generation, classifyRedirectError(errCode, query.Get("error_description")))
		return ""
	}

	state := query.Get("state")
	m.mu.Lock()
	returnTo, known := m.pending[state]
	m.removePending(state)
	m.mu.Unlock()
	if !known {
		m.setError(generation, newError(KindAuthenticationFailed, "unknown login state", nil))
		return ""
	}

	code := query.Get("code")
	if code == "" {
		m.setError(generation, newError(KindAuthenticationFailed, "callback carried no authorization code", nil))
		return ""
	}

	creds, _, err := m.provider.ExchangeCode(ctx, code)
	if err != nil {
		m.setError(generation, classifySessionError(err, KindAuthenticationFailed))
		return ""
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.persistCredentials(creds)

	m.CheckSession(ctx)
	return returnTo
}

// CheckSession fetches the current authentication status from the provider,
// decodes the access-token claims, computes the organization binding and
// commits the whole result in one state update. A failing check leaves the
// prior state intact apart from the Err field, and always releases its
// loading slot.
//
// The commit is fenced on the session generation observed at entry: a
// logout that lands while the provider call is in flight bumps the
// generation, and the now-stale result is discarded instead of
// resurrecting the session it raced with.
func (m *SessionManager) CheckSession(ctx context.Context) {
	release := m.acquireLoading()
	defer release()

	m.mu.Lock()
	creds := m.creds
	generation := m.session.Generation
	m.mu.Unlock()

	if creds == nil {
		// Nothing to check: stay (or become) unauthenticated without error.
		m.commit(generation, Session{}, nil)
		return
	}

	newCreds, identity, err := m.provider.CheckSession(ctx, creds)
	if err != nil {
		classified := classifySessionError(err, KindSessionExpired)
		if classified.Kind == KindSessionExpired || classified.Kind == KindAuthenticationFailed {
			// The session is gone; transient transport errors keep state.
			m.commit(generation, Session{Err: classified}, nil)
			return
		}
		m.setError(generation, classified)
		return
	}

	claims, err := m.decoder.Decode(newCreds.AccessToken)
	if err != nil {
		m.setError(generation, newError(KindAuthenticationFailed, "access token decode failed", err))
		return
	}

	binding := BindOrganization(claims.TenantID, m.cfg.OrganizationID)

	if identity == nil {
		identity = &UserIdentity{}
	}
	if identity.SubjectID == "" {
		identity.SubjectID = claims.Subject
	}
	identity.TenantClaim = claims.TenantID

	next := Session{
		Identity:      identity,
		TenantID:      claims.TenantID,
		Permissions:   claims.Permissions,
		Authenticated: true,
		OrgBound:      binding.Bound,
	}
	if binding.Kind != "" {
		next.Err = newError(binding.Kind, "identity does not belong to organization "+m.cfg.OrganizationID, nil)
	}
	if m.commit(generation, next, newCreds) {
		m.persistCredentials(newCreds)
	}
}

// Logout clears the session and ends the provider-side session. In-flight
// reads are not cancelled; the generation bump lets consumers detect that
// their session changed underneath them.
func (m *SessionManager) Logout(ctx context.Context) {
	release := m.acquireLoading()
	defer release()

	m.mu.Lock()
	creds := m.creds
	m.creds = nil
	generation := m.session.Generation + 1
	m.session = Session{Generation: generation}
	m.mu.Unlock()
	m.notify()

	if m.credStore != nil {
		if err := m.credStore.DeleteCredentials(); err != nil {
			m.logger.Warn("deleting stored credentials failed", slog.Any("error", err))
		}
	}
	if creds != nil {
		if err := m.provider.Logout(ctx, creds); err != nil {
			m.logger.Warn("provider logout failed", slog.Any("error", err))
		}
	}
	m.onLogout()
}

// StartRefresh launches the background session refresher. The returned
// resources are released by Close; the ticker never fires after teardown.
func (m *SessionManager) StartRefresh() {
	ctx, cancel := context.WithCancel(context.Background())
	m.refreshCancel = cancel
	m.refreshDone = make(chan struct{})

	ticker := m.clk.Ticker(m.cfg.RefreshInterval)
	go func() {
		defer close(m.refreshDone)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := m.Snapshot()
				if snap.Authenticated || m.cfg.AutoLogin {
					m.CheckSession(ctx)
				}
			}
		}
	}()
}

// Close stops the background refresher and waits for it to drain.
func (m *SessionManager) Close() {
	if m.refreshCancel != nil {
		m.refreshCancel()
		<-m.refreshDone
		m.refreshCancel = nil
	}
}

// currentToken implements tokenSource for the backend transport.
func (m *SessionManager) currentToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil || m.creds.AccessToken == "" {
		return "", false
	}
	return m.creds.AccessToken, true
}

// generation reads the current session generation for commit fencing.
func (m *SessionManager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Generation
}

// removePending drops one login state. Caller holds m.mu.
func (m *SessionManager) removePending(state string) {
	delete(m.pending, state)
	for i, s := range m.pendingOrder {
		if s == state {
			m.pendingOrder = append(m.pendingOrder[:i], m.pendingOrder[i+1:]...)
			break
		}
	}
}

// commit atomically replaces the session and the in-memory credentials,
// then notifies subscribers. No partially-updated state is ever observable.
// The replacement only lands while the session generation still matches the
// one the operation started under; otherwise a logout won the race and the
// stale result is dropped.
func (m *SessionManager) commit(generation uint64, next Session, creds *Credentials) bool {
	m.mu.Lock()
	if current := m.session.Generation; current != generation {
		m.mu.Unlock()
		m.logger.Debug("stale session result discarded",
			slog.Uint64("observed_generation", generation),
			slog.Uint64("current_generation", current))
		return false
	}
	next.Generation = generation
	m.session = next
	m.creds = creds
	m.mu.Unlock()
	m.notify()
	return true
}

// setError records a classified error without touching identity fields,
// under the same generation fence as commit.
func (m *SessionManager) setError(generation uint64, classified *Error) {
	m.mu.Lock()
	if m.session.Generation != generation {
		m.mu.Unlock()
		return
	}
	m.session.Err = classified
	m.mu.Unlock()
	m.logger.Debug("session error", slog.String("kind", string(classified.Kind)), slog.String("description", classified.Description))
	m.notify()
}

func (m *SessionManager) persistCredentials(creds *Credentials) {
	if m.credStore == nil {
		return
	}
	if err := m.credStore.SaveCredentials(creds); err != nil {
		m.logger.Warn("persisting credentials failed", slog.Any("error", err))
	}
}

// classifySessionError maps a provider failure onto the taxonomy. Already
// classified errors pass through; context and transport failures become
// NetworkError; anything else takes fallback.
func classifySessionError(err error, fallback ErrorKind) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindNetworkError, "provider request cancelled or timed out", err)
	}
	return newError(fallback, err.Error(), err)
}
