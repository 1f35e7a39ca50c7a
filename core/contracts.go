package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Record keys used against the durable record store.
const (
	RecordKeyObligations   = "obligations"
	RecordKeyCredentials   = "credentials"
	RecordKeyCalendarCache = "calendar_cache"
)

// RecordStore is the durable key/value capability supplied by the host.
// Get returns (nil, nil) for a missing key; callers parse payloads
// defensively and treat garbled data as absent.
type RecordStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// TimerHandle cancels a pending timer callback. Cancel is idempotent and
// reports whether the callback was stopped before it fired.
type TimerHandle interface {
	Cancel() bool
}

// Clock is the host timer capability. After schedules fn on the host's timer
// facility; the returned handle is the only way to prevent the fire.
type Clock interface {
	Now() time.Time
	After(d time.Duration, fn func()) TimerHandle
}

// Token is the provider's token-endpoint response shape. ExpiresIn is whole
// seconds and is converted to an absolute expiry exactly once at issuance.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenClient talks to the identity provider's token endpoint.
type TokenClient interface {
	Exchange(ctx context.Context, code, codeVerifier string) (Token, error)
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

type SessionEventKind string

const (
	SessionEventSignedIn  SessionEventKind = "signed_in"
	SessionEventRefreshed SessionEventKind = "refreshed"
	SessionEventSignedOut SessionEventKind = "signed_out"
)

type SessionEvent struct {
	Kind       SessionEventKind
	Status     SessionStatus
	ExpiresAt  time.Time
	Reason     string
	OccurredAt time.Time
}

// SessionObserver receives credential lifecycle notifications. Observers are
// invoked synchronously on the session manager's timeline and must not block.
type SessionObserver interface {
	SessionChanged(event SessionEvent)
}

// SessionObserverFunc adapts a function to the SessionObserver contract.
type SessionObserverFunc func(event SessionEvent)

func (f SessionObserverFunc) SessionChanged(event SessionEvent) {
	if f != nil {
		f(event)
	}
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
