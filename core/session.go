package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultRefreshLead is how long before expiry the refresh fires.
	DefaultRefreshLead = time.Minute

	// DefaultRefreshMaxAttempts preserves the original single-shot policy:
	// one failed refresh clears the session. Raise it to get bounded retry
	// with backoff before the forced sign-out.
	DefaultRefreshMaxAttempts = 1
)

// SessionManagerDeps carries the capabilities the session manager is
// constructed with. Store, Clock and Tokens are required.
type SessionManagerDeps struct {
	Store              RecordStore
	Clock              Clock
	Tokens             TokenClient
	Logger             Logger
	MetricsRecorder    MetricsRecorder
	ErrorMapper        ErrorMapper
	Observers          []SessionObserver
	RefreshLead        time.Duration
	RefreshMaxAttempts int
	RefreshBackoff     RefreshBackoffScheduler
}

// SessionManager drives the credential lifecycle: PKCE code exchange, the
// self-renewing refresh timer, and the sign-out-on-failure policy. Exactly
// one refresh timer is armed per signed-in session; every transition that
// changes the refresh token or expiry cancels the prior timer before arming
// the next one.
type SessionManager struct {
	in instrumented

	store       RecordStore
	clock       Clock
	tokens      TokenClient
	errorMapper ErrorMapper
	timer       *refreshTimer
	backoff     RefreshBackoffScheduler

	refreshLead        time.Duration
	refreshMaxAttempts int

	mu         sync.Mutex
	status     SessionStatus
	credential *CredentialRecord
	observers  []SessionObserver
}

func NewSessionManager(deps SessionManagerDeps) (*SessionManager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("core: record store is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("core: clock is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("core: token client is required")
	}

	refreshLead := deps.RefreshLead
	if refreshLead <= 0 {
		refreshLead = DefaultRefreshLead
	}
	maxAttempts := deps.RefreshMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultRefreshMaxAttempts
	}
	backoff := deps.RefreshBackoff
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	mapper := deps.ErrorMapper
	if mapper == nil {
		mapper = defaultErrorMapper
	}

	return &SessionManager{
		in: instrumented{
			logger:          deps.Logger,
			metricsRecorder: deps.MetricsRecorder,
		},
		store:              deps.Store,
		clock:              deps.Clock,
		tokens:             deps.Tokens,
		errorMapper:        mapper,
		timer:              newRefreshTimer(deps.Clock),
		backoff:            backoff,
		refreshLead:        refreshLead,
		refreshMaxAttempts: maxAttempts,
		status:             SessionStatusSignedOut,
		observers:          append([]SessionObserver(nil), deps.Observers...),
	}, nil
}

// Subscribe registers an observer for credential lifecycle events.
func (m *SessionManager) Subscribe(observer SessionObserver) {
	if m == nil || observer == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, observer)
	m.mu.Unlock()
}

// Status returns the current lifecycle state.
func (m *SessionManager) Status() SessionStatus {
	if m == nil {
		return SessionStatusSignedOut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// AccessToken returns the current access token, or "" when signed out. It
// never triggers a refresh; consumers rely on the timer keeping the token
// fresh.
func (m *SessionManager) AccessToken() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil {
		return ""
	}
	return m.credential.AccessToken
}

// Resume restores a persisted session on process start. A credential whose
// expiry is still in the future signs in directly and arms the refresh timer
// with the recomputed remaining lifetime; an already-expired credential gets
// one refresh pass instead of being discarded, since a stale access token
// with a live refresh token is still usable.
func (m *SessionManager) Resume(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("core: session manager is nil")
	}
	startedAt := m.clock.Now()

	payload, err := m.store.Get(ctx, RecordKeyCredentials)
	if err != nil {
		err = m.mapError(fmt.Errorf("core: read credential record: %w", err))
		m.in.observeOperation(ctx, startedAt, "session_resume", err, nil)
		return err
	}
	credential, _ := DecodeCredential(payload)
	if credential == nil {
		m.in.observeOperation(ctx, startedAt, "session_resume", nil, map[string]any{
			"session_status": string(SessionStatusSignedOut),
		})
		return nil
	}

	now := m.clock.Now()
	if credential.ExpiresAt.After(now) {
		m.mu.Lock()
		m.status = SessionStatusSignedIn
		m.credential = credential
		m.mu.Unlock()

		m.scheduleRefresh(credential.RemainingLifetime(now))
		m.notify(SessionEvent{
			Kind:       SessionEventSignedIn,
			Status:     SessionStatusSignedIn,
			ExpiresAt:  credential.ExpiresAt,
			OccurredAt: now,
		})
		m.in.observeOperation(ctx, startedAt, "session_resume", nil, map[string]any{
			"session_status": string(SessionStatusSignedIn),
		})
		return nil
	}

	// Expired on disk: attempt a single refresh pass via the usual path.
	m.mu.Lock()
	m.credential = credential
	m.mu.Unlock()
	err = m.refresh(ctx)
	m.in.observeOperation(ctx, startedAt, "session_resume", err, map[string]any{
		"session_status": string(m.Status()),
	})
	return err
}

// BeginAuthorization marks the session as mid-flow. The host drives the
// actual browser redirect; see the auth package for URL construction.
func (m *SessionManager) BeginAuthorization() error {
	if m == nil {
		return fmt.Errorf("core: session manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(SessionStatusAuthorizing)
}

// CancelAuthorization returns to signed-out after an abandoned redirect.
func (m *SessionManager) CancelAuthorization() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == SessionStatusAuthorizing {
		_ = m.transitionLocked(SessionStatusSignedOut)
	}
}

// CompleteAuthorization exchanges the authorization code for tokens, persists
// the credential record and arms the refresh timer. On exchange failure the
// session stays signed out and the error surfaces as AUTH_EXCHANGE_FAILED;
// the user may re-initiate sign-in.
func (m *SessionManager) CompleteAuthorization(ctx context.Context, code, codeVerifier string) (CredentialRecord, error) {
	if m == nil {
		return CredentialRecord{}, fmt.Errorf("core: session manager is nil")
	}
	startedAt := m.clock.Now()

	code = strings.TrimSpace(code)
	if code == "" {
		err := m.mapError(fmt.Errorf("core: authorization code is required"))
		m.in.observeOperation(ctx, startedAt, "session_complete_authorization", err, nil)
		return CredentialRecord{}, err
	}

	token, err := m.tokens.Exchange(ctx, code, codeVerifier)
	if err != nil {
		m.mu.Lock()
		if m.status == SessionStatusAuthorizing {
			_ = m.transitionLocked(SessionStatusSignedOut)
		}
		m.mu.Unlock()

		err = m.mapError(newKitError(
			fmt.Sprintf("core: authorization code exchange failed: %v", err),
			goerrors.CategoryAuth,
			KitErrorAuthExchangeFailed,
		))
		m.in.observeOperation(ctx, startedAt, "session_complete_authorization", err, nil)
		return CredentialRecord{}, err
	}

	now := m.clock.Now()
	credential := CredentialRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if persistErr := m.persistCredential(ctx, credential); persistErr != nil {
		m.in.logError(ctx, "credential persist failed after exchange", map[string]any{
			"error": persistErr.Error(),
		})
	}

	m.mu.Lock()
	m.status = SessionStatusSignedIn
	stored := credential
	m.credential = &stored
	m.mu.Unlock()

	m.scheduleRefresh(time.Duration(token.ExpiresIn) * time.Second)
	m.notify(SessionEvent{
		Kind:       SessionEventSignedIn,
		Status:     SessionStatusSignedIn,
		ExpiresAt:  credential.ExpiresAt,
		OccurredAt: now,
	})
	m.in.observeOperation(ctx, startedAt, "session_complete_authorization", nil, map[string]any{
		"session_status": string(SessionStatusSignedIn),
	})
	return credential, nil
}

// SignOut cancels the refresh timer, clears the persisted credential and
// transitions to signed out.
func (m *SessionManager) SignOut(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("core: session manager is nil")
	}
	startedAt := m.clock.Now()

	m.timer.Cancel()

	m.mu.Lock()
	m.credential = nil
	m.status = SessionStatusSignedOut
	m.mu.Unlock()

	err := m.store.Delete(ctx, RecordKeyCredentials)
	if err != nil {
		err = m.mapError(fmt.Errorf("core: clear credential record: %w", err))
	}
	m.notify(SessionEvent{
		Kind:       SessionEventSignedOut,
		Status:     SessionStatusSignedOut,
		Reason:     "sign out",
		OccurredAt: m.clock.Now(),
	})
	m.in.observeOperation(ctx, startedAt, "session_sign_out", err, nil)
	return err
}

// Close tears down the manager at process shutdown. Timers are cancelled;
// persisted state is left intact for the next Resume.
func (m *SessionManager) Close() {
	if m == nil {
		return
	}
	m.timer.Cancel()
}

func (m *SessionManager) scheduleRefresh(expiresIn time.Duration) {
	delay := expiresIn - m.refreshLead
	if delay < 0 {
		delay = 0
	}
	m.timer.Arm(delay, func() {
		_ = m.refresh(context.Background())
	})
}

// refresh runs the refresh_token grant with bounded retry. The final failure
// is fatal for the session: the credential record is cleared, the state drops
// to signed out and observers are told, forcing a fresh sign-in. Either
// outcome only commits if the session is still refreshing on the same token
// lineage the attempt snapshotted; a sign-out or re-issuance that interleaved
// with the network call wins and the late result is dropped.
func (m *SessionManager) refresh(ctx context.Context) error {
	startedAt := m.clock.Now()

	m.mu.Lock()
	if m.credential == nil || strings.TrimSpace(m.credential.RefreshToken) == "" {
		m.mu.Unlock()
		return nil
	}
	refreshToken := m.credential.RefreshToken
	_ = m.transitionLocked(SessionStatusRefreshing)
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.refreshMaxAttempts; attempt++ {
		token, err := m.tokens.Refresh(ctx, refreshToken)
		if err == nil {
			// Servers may omit the refresh token on rotation-free grants;
			// carry the previous one forward.
			if strings.TrimSpace(token.RefreshToken) == "" {
				token.RefreshToken = refreshToken
			}

			now := m.clock.Now()
			credential := CredentialRecord{
				AccessToken:  token.AccessToken,
				RefreshToken: token.RefreshToken,
				ExpiresAt:    now.Add(time.Duration(token.ExpiresIn) * time.Second),
			}

			m.mu.Lock()
			if m.refreshSupersededLocked(refreshToken) {
				m.mu.Unlock()
				m.in.observeOperation(ctx, startedAt, "session_refresh", nil, map[string]any{
					"superseded": true,
				})
				return nil
			}
			if persistErr := m.persistCredential(ctx, credential); persistErr != nil {
				m.in.logError(ctx, "credential persist failed after refresh", map[string]any{
					"error": persistErr.Error(),
				})
			}
			stored := credential
			m.credential = &stored
			_ = m.transitionLocked(SessionStatusSignedIn)
			m.mu.Unlock()

			m.scheduleRefresh(time.Duration(token.ExpiresIn) * time.Second)
			m.notify(SessionEvent{
				Kind:       SessionEventRefreshed,
				Status:     SessionStatusSignedIn,
				ExpiresAt:  credential.ExpiresAt,
				OccurredAt: now,
			})
			m.in.observeOperation(ctx, startedAt, "session_refresh", nil, map[string]any{
				"attempts": attempt,
			})
			return nil
		}
		lastErr = err
		if attempt == m.refreshMaxAttempts {
			break
		}
		if waitErr := waitWithContext(ctx, m.backoff.NextDelay(attempt)); waitErr != nil {
			lastErr = waitErr
			break
		}
	}

	m.mu.Lock()
	if m.refreshSupersededLocked(refreshToken) {
		m.mu.Unlock()
		m.in.observeOperation(ctx, startedAt, "session_refresh", nil, map[string]any{
			"superseded": true,
		})
		return nil
	}
	m.credential = nil
	m.status = SessionStatusSignedOut
	m.mu.Unlock()

	m.timer.Cancel()

	if deleteErr := m.store.Delete(ctx, RecordKeyCredentials); deleteErr != nil {
		m.in.logError(ctx, "credential clear failed after refresh failure", map[string]any{
			"error": deleteErr.Error(),
		})
	}

	err := m.mapError(newKitError(
		fmt.Sprintf("core: token refresh failed: %v", lastErr),
		goerrors.CategoryAuth,
		KitErrorTokenRefreshFailed,
	))
	m.notify(SessionEvent{
		Kind:       SessionEventSignedOut,
		Status:     SessionStatusSignedOut,
		Reason:     "token refresh failed",
		OccurredAt: m.clock.Now(),
	})
	m.in.observeOperation(ctx, startedAt, "session_refresh", err, nil)
	return err
}

// refreshSupersededLocked reports whether an in-flight refresh lost to a
// concurrent transition while its network call ran: the session left the
// refreshing state, or the credential no longer carries the snapshotted
// refresh token. Callers hold m.mu.
func (m *SessionManager) refreshSupersededLocked(refreshToken string) bool {
	if m.status != SessionStatusRefreshing {
		return true
	}
	return m.credential == nil || m.credential.RefreshToken != refreshToken
}

func (m *SessionManager) persistCredential(ctx context.Context, credential CredentialRecord) error {
	payload, err := EncodeCredential(credential)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, RecordKeyCredentials, payload); err != nil {
		return m.mapError(fmt.Errorf("core: persist credential record: %w", err))
	}
	return nil
}

func (m *SessionManager) transitionLocked(next SessionStatus) error {
	if m.status == next {
		return nil
	}
	if !sessionTransitionAllowed(m.status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSessionTransition, m.status, next)
	}
	m.status = next
	return nil
}

func (m *SessionManager) notify(event SessionEvent) {
	m.mu.Lock()
	observers := append([]SessionObserver(nil), m.observers...)
	m.mu.Unlock()

	for _, observer := range observers {
		observer.SessionChanged(event)
	}
}

func (m *SessionManager) mapError(err error) error {
	if err == nil {
		return nil
	}
	if m.errorMapper == nil {
		return err
	}
	mapped := m.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
