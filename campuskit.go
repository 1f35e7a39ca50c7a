package campuskit

import "github.com/kyoukan/campuskit/core"

type Config = core.Config

type RecurrenceConfig = core.RecurrenceConfig
type SessionConfig = core.SessionConfig
type ProviderConfig = core.ProviderConfig

type Option = core.Option

type Service = core.Service

type Obligation = core.Obligation
type ObligationInput = core.ObligationInput
type CredentialRecord = core.CredentialRecord
type SessionStatus = core.SessionStatus
type SessionEvent = core.SessionEvent
type SessionEventKind = core.SessionEventKind
type SessionObserver = core.SessionObserver
type SessionObserverFunc = core.SessionObserverFunc

type RecordStore = core.RecordStore
type Clock = core.Clock
type TimerHandle = core.TimerHandle
type Token = core.Token
type TokenClient = core.TokenClient
type MetricsRecorder = core.MetricsRecorder
type RefreshBackoffScheduler = core.RefreshBackoffScheduler

type Reconciler = core.Reconciler
type ReconcileResult = core.ReconcileResult
type SessionManager = core.SessionManager

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithRecordStore             = core.WithRecordStore
	WithClock                   = core.WithClock
	WithTokenClient             = core.WithTokenClient
	WithSessionObserver         = core.WithSessionObserver
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
