package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the reconciler and the session manager against one explicit
// context: the shared record store, the clock capability and the token
// client. Hosts construct it once and drive both subsystems through it.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	errorMapper    ErrorMapper

	reconciler *Reconciler
	session    *SessionManager
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("campuskit", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("campuskit"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.recordStore == nil {
		builder.recordStore = NewMemoryRecordStore()
	}
	if builder.clock == nil {
		builder.clock = SystemClock{}
	}
	if builder.refreshBackoff == nil {
		builder.refreshBackoff = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	reconciler, err := NewReconciler(ReconcilerDeps{
		Store:           builder.recordStore,
		Clock:           builder.clock,
		Logger:          logger,
		MetricsRecorder: builder.metricsRecorder,
		ErrorMapper:     builder.errorMapper,
		Rule: RecurrenceRule{
			Period:           time.Duration(finalConfig.Recurrence.PeriodDays) * 24 * time.Hour,
			GenerationOffset: time.Duration(finalConfig.Recurrence.GenerationOffsetDays) * 24 * time.Hour,
		},
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var session *SessionManager
	if builder.tokenClient != nil {
		session, err = NewSessionManager(SessionManagerDeps{
			Store:              builder.recordStore,
			Clock:              builder.clock,
			Tokens:             builder.tokenClient,
			Logger:             logger,
			MetricsRecorder:    builder.metricsRecorder,
			ErrorMapper:        builder.errorMapper,
			Observers:          builder.observers,
			RefreshLead:        time.Duration(finalConfig.Session.RefreshLeadSeconds) * time.Second,
			RefreshMaxAttempts: finalConfig.Session.RefreshMaxAttempts,
			RefreshBackoff:     builder.refreshBackoff,
		})
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		errorMapper:    builder.errorMapper,
		reconciler:     reconciler,
		session:        session,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// Config returns the resolved configuration.
func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// Obligations exposes the reconciliation trigger.
func (s *Service) Obligations() *Reconciler {
	if s == nil {
		return nil
	}
	return s.reconciler
}

// Session exposes the credential lifecycle manager. Nil when the service was
// built without a token client.
func (s *Service) Session() *SessionManager {
	if s == nil {
		return nil
	}
	return s.session
}

// Start restores persisted state: resumes any stored session and runs the
// cold-start reconciliation pass. The pass runs even when resume fails, so a
// dead refresh token forces re-authentication without leaving the obligation
// collection empty; the resume error is returned after the pass.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	var resumeErr error
	if s.session != nil {
		resumeErr = s.session.Resume(ctx)
	}
	if _, err := s.reconciler.Load(ctx); err != nil {
		return err
	}
	return resumeErr
}

// Close cancels live timers. Persisted state is left for the next Start.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.session != nil {
		s.session.Close()
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
