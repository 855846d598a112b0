package crmauth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Manager orchestrates login, registration, logout and validation for one
// session. It is the only component allowed to mutate the CredentialStore
// and it rebinds its PermissionResolver on every identity change.
//
// Remote calls run without holding the lock. Every credential mutation
// bumps a generation counter; a completion whose generation is stale is
// discarded so a slow response never overrides a newer login or logout.
type Manager struct {
	store       CredentialStore
	authority   Authority
	validator   SessionValidator
	permissions *PermissionResolver
	logger      Logger
	sink        ActivitySink
	interval    time.Duration
	preload     bool
	debug       bool
	now         func() time.Time

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	state      State
	prior      State
	token      string
	identity   *Identity
	confirmed  bool
	optimistic bool
	expired    bool
	generation uint64
	disposed   bool
	stopLoop   context.CancelFunc

	// set when Init dropped its result for an in-flight login
	initDiscarded bool

	subscribers map[int]func(Snapshot)
	nextSub     int
}

// ManagerOption customizes manager construction.
type ManagerOption func(*Manager)

// WithLogger overrides the manager logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.sink = normalizeActivitySink(sink)
	}
}

// WithRevalidateInterval sets the periodic validation cadence. Zero or a
// negative value disables the loop.
func WithRevalidateInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.interval = d
	}
}

// WithValidator replaces the default authority backed validator.
func WithValidator(v SessionValidator) ManagerOption {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithPermissionResolver injects the resolver owned by this manager.
func WithPermissionResolver(r *PermissionResolver) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.permissions = r
		}
	}
}

// WithPermissionPreload controls whether permissions are fetched in the
// background every time the manager becomes authenticated.
func WithPermissionPreload(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.preload = enabled
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithDebug dumps identities on transitions.
func WithDebug(debug bool) ManagerOption {
	return func(m *Manager) {
		m.debug = debug
	}
}

// NewManager composes a store and an authority into a session manager in
// StateUnknown. Call Init to resolve the stored credential and Dispose
// when done.
func NewManager(store CredentialStore, authority Authority, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:       store,
		authority:   authority,
		logger:      defLogger{},
		sink:        noopActivitySink{},
		interval:    DefaultRevalidateInterval,
		preload:     true,
		now:         time.Now,
		lifetime:    ctx,
		cancel:      cancel,
		state:       StateUnknown,
		subscribers: map[int]func(Snapshot){},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.validator == nil {
		v := NewAuthorityValidator(authority)
		v.now = m.now
		m.validator = v
	}

	if m.permissions == nil {
		m.permissions = NewPermissionResolver(authority,
			WithResolverLogger(m.logger),
			WithResolverActivitySink(m.sink),
		)
	}

	return m
}

// Permissions returns the resolver bound to the current identity
func (m *Manager) Permissions() *PermissionResolver {
	return m.permissions
}

// Credentials returns a read-only view of the store
func (m *Manager) Credentials() CredentialReader {
	return m.store
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentIdentity returns a copy of the current identity, if any
func (m *Manager) CurrentIdentity() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.Clone()
}

// IsAuthenticated is true only when a token and an identity are held and
// the authority confirmed them, or could not be reached while a cached
// identity was present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticatedLocked()
}

// IsLoading is true while the state is Unknown or Authenticating
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.state.Resolved()
}

// Confirmed reports whether the authority confirmed the current token, as
// opposed to the session being kept optimistically.
func (m *Manager) Confirmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

// Snapshot returns a consistent view of the public surface
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn for state change notifications. The returned
// function removes it.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Init resolves the persisted credential. With no token the manager goes
// to Unauthenticated; with a token and a cached identity it validates the
// token with the authority first. A store that cannot be read leaves the
// manager in Unknown and returns the error, so Init can be retried.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.state != StateUnknown {
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	token, hasToken, terr := m.store.Token(ctx)
	identity, hasIdentity, ierr := m.store.CachedIdentity(ctx)

	if err := firstErr(terr, ierr); err != nil {
		if IsInconsistentState(err) {
			return m.resolveInconsistent(ctx, gen, err.Error())
		}
		// the credential may still be good, keep it and stay Unknown
		m.logger.Error("failed to read credential store: %v", err)
		return errors.Wrap(err, errors.CategoryInternal, "failed to read credential store")
	}

	if hasToken != hasIdentity {
		reason := "token without cached identity"
		if hasIdentity {
			reason = "cached identity without token"
		}
		return m.resolveInconsistent(ctx, gen, reason)
	}

	if !hasToken {
		m.mu.Lock()
		if m.staleLocked(gen) {
			m.initDiscarded = m.state != StateAuthenticated && m.state != StateUnauthenticated
			m.mu.Unlock()
			return nil
		}
		snap, changed := m.transitionLocked(StateUnauthenticated)
		m.mu.Unlock()
		m.publish(changed, snap)
		return nil
	}

	fresh, err := m.validator.Validate(ctx, token)

	m.mu.Lock()
	if m.staleLocked(gen) {
		m.initDiscarded = m.state != StateAuthenticated && m.state != StateUnauthenticated
		m.mu.Unlock()
		m.logger.Debug("discarding startup validation, session changed meanwhile")
		return nil
	}

	switch {
	case err == nil:
		if serr := m.persistLocked(ctx, token, fresh); serr != nil {
			m.mu.Unlock()
			return m.resolveInconsistent(ctx, m.currentGeneration(), "failed to persist validated identity")
		}
		m.confirmed = true
		m.optimistic = false
		snap := m.enterAuthenticatedLocked(token, fresh, true)
		m.mu.Unlock()
		m.publish(true, snap)
		m.afterAuthenticated(true)
		return nil

	case IsUnauthorized(err):
		snap := m.clearLocked(ctx, true)
		m.mu.Unlock()
		m.publish(true, snap)
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionExpired,
			UserID:    identity.ID,
			From:      StateUnknown,
			To:        StateUnauthenticated,
			Metadata:  map[string]any{"phase": "startup"},
		})
		return nil

	default:
		m.logger.Info("authority unreachable at startup, keeping cached session for %s: %v", identity.ID, err)
		m.confirmed = false
		m.optimistic = true
		snap := m.enterAuthenticatedLocked(token, identity, true)
		m.mu.Unlock()
		m.publish(true, snap)
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventValidationDeferred,
			UserID:    identity.ID,
			From:      StateUnknown,
			To:        StateAuthenticated,
			Metadata:  map[string]any{"phase": "startup", "error": err.Error()},
		})
		m.afterAuthenticated(true)
		return nil
	}
}

// Login authenticates with email and password. On failure the previous
// state is kept and ErrInvalidCredentials, ErrNetwork or ErrInvalidInput
// is returned.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := LoginRequest{Email: email, Password: password}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	_, err := m.authenticate(ctx, ActivityEventLoginSuccess, req.Email, func(ctx context.Context) (*AuthResult, error) {
		return m.authority.Login(ctx, req.Email, req.Password)
	})
	return err
}

// Register creates a new identity and organization and signs it in.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*Identity, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	input := req.Input()
	return m.authenticate(ctx, ActivityEventRegisterSuccess, input.Email, func(ctx context.Context) (*AuthResult, error) {
		return m.authority.Register(ctx, input)
	})
}

func (m *Manager) authenticate(ctx context.Context, success ActivityEventType, email string, call func(context.Context) (*AuthResult, error)) (*Identity, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	prior := m.state
	// claim a generation so validations already in flight become stale
	m.generation++
	gen := m.generation
	var snap Snapshot
	entered := false
	if prior == StateUnauthenticated || prior == StateUnknown {
		m.prior = prior
		snap, entered = m.transitionLocked(StateAuthenticating)
	}
	m.mu.Unlock()
	m.publish(entered, snap)

	res, err := call(ctx)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrDisposed
	}

	if m.generation != gen {
		// a newer login or logout owns the state now
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrSessionSuperseded
	}

	if err != nil {
		var restored Snapshot
		changed := false
		// this call holds the newest generation, so it also ends an older
		// login it superseded
		if m.state == StateAuthenticating {
			restored, changed = m.transitionLocked(m.prior)
		}
		resume := m.resumeInitLocked()
		m.mu.Unlock()
		m.publish(changed, restored)
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			From:      prior,
			To:        prior,
			Metadata:  map[string]any{"email": email, "error": err.Error()},
		})
		if resume {
			m.resumeInit(ctx)
		}
		return nil, err
	}

	if serr := m.persistLocked(ctx, res.Token, res.Identity); serr != nil {
		var restored Snapshot
		changed := false
		// this call holds the newest generation, so it also ends an older
		// login it superseded
		if m.state == StateAuthenticating {
			restored, changed = m.transitionLocked(m.prior)
		}
		resume := m.resumeInitLocked()
		m.mu.Unlock()
		m.publish(changed, restored)
		m.logger.Error("failed to persist credential for %s: %v", res.Identity.ID, serr)
		if resume {
			m.resumeInit(ctx)
		}
		return nil, serr
	}

	m.confirmed = true
	m.optimistic = false
	m.expired = false
	identityChanged := !m.identity.SameSubject(res.Identity) || m.token != res.Token
	out := m.enterAuthenticatedLocked(res.Token, res.Identity, identityChanged)
	m.mu.Unlock()

	m.publish(true, out)
	m.record(ctx, ActivityEvent{
		EventType: success,
		UserID:    res.Identity.ID,
		From:      prior,
		To:        StateAuthenticated,
		Metadata:  map[string]any{"email": email},
	})
	m.afterAuthenticated(identityChanged)

	return res.Identity.Clone(), nil
}

// Logout clears local state unconditionally, then asks the authority to
// invalidate the token. Remote failures are logged, never returned.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.token
	userID := ""
	if m.identity != nil {
		userID = m.identity.ID
	}
	from := m.state
	if token == "" {
		if stored, ok, err := m.store.Token(ctx); err == nil && ok {
			token = stored
		}
	}
	snap := m.clearLocked(ctx, false)
	m.mu.Unlock()

	m.publish(true, snap)
	m.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    userID,
		From:      from,
		To:        StateUnauthenticated,
	})

	if token == "" || m.authority == nil {
		return
	}

	if err := m.authority.Logout(ctx, token); err != nil {
		m.logger.Error("remote logout failed for user %s: %v", userID, err)
	}
}

// RefreshUserData validates the current token again and updates the
// cached identity. ErrUnauthorized clears the session; ErrNetwork leaves
// it untouched.
func (m *Manager) RefreshUserData(ctx context.Context) (*Identity, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	token := m.token
	gen := m.generation
	m.mu.Unlock()

	if token == "" {
		stored, ok, err := m.store.Token(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.mu.Lock()
			snap, changed := Snapshot{}, false
			if !m.staleLocked(gen) && m.state != StateUnauthenticated {
				snap = m.clearLocked(ctx, false)
				changed = true
			}
			m.mu.Unlock()
			m.publish(changed, snap)
			return nil, newKind(ErrUnauthorized, "no session token", nil)
		}
		token = stored
	}

	fresh, err := m.validator.Validate(ctx, token)
	return m.applyValidation(ctx, gen, token, fresh, err, "refresh")
}

// UpdateIdentity applies fn to a copy of the current identity and
// persists the result, for explicit profile update flows. The identity id
// cannot change; a role change rebinds the permission resolver.
func (m *Manager) UpdateIdentity(ctx context.Context, fn func(*Identity)) (*Identity, error) {
	if fn == nil {
		return nil, newKind(ErrInvalidInput, "update function is required", nil)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.state != StateAuthenticated || m.identity == nil {
		m.mu.Unlock()
		return nil, newKind(ErrUnauthorized, "no authenticated session", nil)
	}

	next := m.identity.Clone()
	fn(next)
	if next.ID != m.identity.ID {
		m.mu.Unlock()
		return nil, newKind(ErrInvalidInput, "identity id cannot change", map[string]any{
			"id": m.identity.ID,
		})
	}

	if err := m.persistLocked(ctx, m.token, next); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	roleChanged := next.Role != m.identity.Role
	snap := m.enterAuthenticatedLocked(m.token, next, roleChanged)
	m.mu.Unlock()

	m.publish(true, snap)
	m.afterAuthenticated(roleChanged)
	return next.Clone(), nil
}

// Dispose stops background work and detaches subscribers. Completions of
// calls still in flight are ignored afterwards.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.stopLoopLocked()
	m.subscribers = map[int]func(Snapshot){}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) applyValidation(ctx context.Context, gen uint64, token string, fresh *Identity, err error, phase string) (*Identity, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	if m.staleLocked(gen) {
		m.mu.Unlock()
		return nil, ErrSessionSuperseded
	}

	if err != nil {
		if IsUnauthorized(err) {
			from := m.state
			userID := ""
			if m.identity != nil {
				userID = m.identity.ID
			}
			snap := m.clearLocked(ctx, true)
			m.mu.Unlock()
			m.publish(true, snap)
			m.record(ctx, ActivityEvent{
				EventType: ActivityEventSessionExpired,
				UserID:    userID,
				From:      from,
				To:        StateUnauthenticated,
				Metadata:  map[string]any{"phase": phase},
			})
			return nil, err
		}

		m.mu.Unlock()
		m.logger.Info("%s validation deferred, authority unreachable: %v", phase, err)
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventValidationDeferred,
			From:      m.State(),
			To:        m.State(),
			Metadata:  map[string]any{"phase": phase, "error": err.Error()},
		})
		return nil, err
	}

	if serr := m.persistLocked(ctx, token, fresh); serr != nil {
		m.mu.Unlock()
		return nil, serr
	}

	changed := !m.identity.SameSubject(fresh)
	m.confirmed = true
	m.optimistic = false
	snap := m.enterAuthenticatedLocked(token, fresh, changed)
	m.mu.Unlock()

	m.publish(true, snap)
	m.afterAuthenticated(changed)
	return fresh.Clone(), nil
}

func (m *Manager) resolveInconsistent(ctx context.Context, gen uint64, reason string) error {
	m.mu.Lock()
	if m.staleLocked(gen) {
		m.mu.Unlock()
		return nil
	}
	from := m.state
	snap := m.clearLocked(ctx, false)
	m.mu.Unlock()

	m.logger.Error("inconsistent credential state, forcing logout: %s", reason)
	m.publish(true, snap)
	m.record(ctx, ActivityEvent{
		EventType: ActivityEventInconsistent,
		From:      from,
		To:        StateUnauthenticated,
		Metadata:  map[string]any{"reason": reason},
	})
	return nil
}

func (m *Manager) revalidationLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.revalidate(ctx)
		}
	}
}

func (m *Manager) revalidate(ctx context.Context) {
	m.mu.Lock()
	if m.disposed || m.state != StateAuthenticated || m.token == "" {
		m.mu.Unlock()
		return
	}
	token := m.token
	gen := m.generation
	m.mu.Unlock()

	fresh, err := m.validator.Validate(ctx, token)
	if ctx.Err() != nil {
		return
	}

	if _, err := m.applyValidation(ctx, gen, token, fresh, err, "periodic"); err != nil && !IsNetworkError(err) {
		m.logger.Debug("periodic validation result: %v", err)
	}
}

// afterAuthenticated kicks the background permission load when the bound
// identity changed.
func (m *Manager) afterAuthenticated(identityChanged bool) {
	if !identityChanged || !m.preload {
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := m.permissions.LoadPermissions(m.lifetime); err != nil {
			m.logger.Info("permissions not loaded, using role defaults: %v", err)
		}
	}()
}

// persistLocked writes the credential and bumps the generation.
func (m *Manager) persistLocked(ctx context.Context, token string, identity *Identity) error {
	if err := m.store.SetCredential(ctx, token, identity); err != nil {
		return err
	}
	m.generation++
	return nil
}

// enterAuthenticatedLocked updates the mirror, rebinds permissions when
// needed and starts the revalidation loop.
func (m *Manager) enterAuthenticatedLocked(token string, identity *Identity, rebind bool) Snapshot {
	m.token = token
	m.identity = identity.Clone()
	m.expired = false
	if rebind {
		m.permissions.Reset(identity, token)
	}
	m.state = StateAuthenticated
	m.startLoopLocked()

	if m.debug {
		m.logger.Debug("authenticated identity: %s", print.MaybePrettyJSON(identity))
	}
	return m.snapshotLocked()
}

// clearLocked removes every credential, resets permissions and moves to
// Unauthenticated. Store failures are logged; the in-memory state is
// cleared regardless.
func (m *Manager) clearLocked(ctx context.Context, expired bool) Snapshot {
	if err := m.store.ClearCredential(ctx); err != nil {
		m.logger.Error("failed to clear credential store: %v", err)
	}
	m.generation++
	m.token = ""
	m.identity = nil
	m.confirmed = false
	m.optimistic = false
	m.expired = expired
	m.permissions.Reset(nil, "")
	m.stopLoopLocked()
	m.state = StateUnauthenticated
	return m.snapshotLocked()
}

// resumeInitLocked reports whether a failed login left the manager back
// in Unknown after it discarded a startup validation.
func (m *Manager) resumeInitLocked() bool {
	if !m.initDiscarded || m.state != StateUnknown {
		return false
	}
	m.initDiscarded = false
	return true
}

func (m *Manager) resumeInit(ctx context.Context) {
	if err := m.Init(ctx); err != nil {
		m.logger.Error("resolving stored session after failed login: %v", err)
	}
}

func (m *Manager) transitionLocked(to State) (Snapshot, bool) {
	if m.state == to {
		return m.snapshotLocked(), false
	}
	m.state = to
	return m.snapshotLocked(), true
}

func (m *Manager) startLoopLocked() {
	if m.stopLoop != nil || m.interval <= 0 || m.disposed {
		return
	}
	ctx, cancel := context.WithCancel(m.lifetime)
	m.stopLoop = cancel
	m.wg.Add(1)
	go m.revalidationLoop(ctx, m.interval)
}

func (m *Manager) stopLoopLocked() {
	if m.stopLoop != nil {
		m.stopLoop()
		m.stopLoop = nil
	}
}

func (m *Manager) staleLocked(gen uint64) bool {
	return m.disposed || m.generation != gen
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) authenticatedLocked() bool {
	return m.state == StateAuthenticated &&
		m.token != "" &&
		m.identity != nil &&
		(m.confirmed || m.optimistic)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:           m.state,
		Identity:        m.identity.Clone(),
		IsAuthenticated: m.authenticatedLocked(),
		IsLoading:       !m.state.Resolved(),
		Expired:         m.expired,
	}
}

func (m *Manager) publish(changed bool, snap Snapshot) {
	if !changed {
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := m.sink.Record(ctx, event); err != nil {
		m.logger.Error("activity sink error: %v", err)
	}
}
