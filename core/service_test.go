package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewService_ResolvesConfigLayers(t *testing.T) {
	runtime := Config{}
	runtime.Session.RefreshLeadSeconds = 30

	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"recurrence": map[string]any{
			"period_days":            14,
			"generation_offset_days": 13,
		},
	}})

	service, err := NewService(runtime,
		WithConfigProvider(provider),
		WithRecordStore(NewMemoryRecordStore()),
		WithClock(newManualClock(mustDate("2024-01-01"))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer service.Close()

	cfg := service.Config()
	if cfg.Recurrence.PeriodDays != 14 || cfg.Recurrence.GenerationOffsetDays != 13 {
		t.Fatalf("expected loaded recurrence config, got %+v", cfg.Recurrence)
	}
	if cfg.Session.RefreshLeadSeconds != 30 {
		t.Fatalf("expected runtime refresh lead, got %+v", cfg.Session)
	}
	if service.Session() != nil {
		t.Fatal("expected no session manager without a token client")
	}
	if service.Obligations() == nil {
		t.Fatal("expected reconciler to be built")
	}
}

func TestNewService_RejectsInvalidRuntimeConfig(t *testing.T) {
	runtime := Config{}
	runtime.Recurrence.PeriodDays = 5
	runtime.Recurrence.GenerationOffsetDays = 9

	if _, err := NewService(runtime); err == nil {
		t.Fatal("expected invalid runtime config to be rejected")
	}
}

func TestService_StartRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	clock := newManualClock(mustDate("2024-01-08"))
	tokens := &scriptedTokenClient{
		exchangeResp: Token{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600},
		refreshResp:  Token{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600},
	}

	first, err := NewService(Config{},
		WithRecordStore(store),
		WithClock(clock),
		WithTokenClient(tokens),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	due := mustDate("2024-01-08")
	if _, err := first.Obligations().AddObligation(ctx, ObligationInput{
		Text:      "weekly reading response",
		Category:  "homework",
		Recurring: true,
		DueDate:   &due,
	}); err != nil {
		t.Fatalf("AddObligation: %v", err)
	}

	if err := first.Session().BeginAuthorization(); err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	if _, err := first.Session().CompleteAuthorization(ctx, "code", "verifier"); err != nil {
		t.Fatalf("CompleteAuthorization: %v", err)
	}
	first.Close()

	// Two weeks later the host starts a fresh service over the same store.
	clock.Advance(14 * 24 * time.Hour)
	second, err := NewService(Config{},
		WithRecordStore(store),
		WithClock(clock),
		WithTokenClient(tokens),
	)
	if err != nil {
		t.Fatalf("NewService restart: %v", err)
	}
	defer second.Close()

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The stored credential expired while closed, so resume refreshes it.
	if got := second.Session().Status(); got != SessionStatusSignedIn {
		t.Fatalf("expected signed-in session after resume, got %q", got)
	}
	if got := second.Session().AccessToken(); got != "access-2" {
		t.Fatalf("expected refreshed access token, got %q", got)
	}

	obligations := second.Obligations().Obligations()
	template := findTemplate(t, obligations)
	if len(template.GeneratedDates) != 3 {
		t.Fatalf("expected anchor plus two generated weeks, got %v", template.GeneratedDates)
	}
	if len(obligations) != 3 {
		t.Fatalf("expected template plus two occurrences, got %d", len(obligations))
	}
}

func TestService_StartLoadsObligationsWhenResumeFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	clock := newManualClock(mustDate("2024-01-08"))

	first, err := NewService(Config{},
		WithRecordStore(store),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	due := mustDate("2024-01-08")
	if _, err := first.Obligations().AddObligation(ctx, ObligationInput{
		Text:      "weekly problem set",
		Recurring: true,
		DueDate:   &due,
	}); err != nil {
		t.Fatalf("AddObligation: %v", err)
	}
	first.Close()

	seedCredential(t, store, CredentialRecord{
		AccessToken:  "stale-access",
		RefreshToken: "dead-refresh",
		ExpiresAt:    clock.Now().Add(-time.Hour),
	})

	// Two weeks later the stored refresh token has been revoked upstream.
	clock.Advance(14 * 24 * time.Hour)
	tokens := &scriptedTokenClient{refreshErrs: []error{errText("401 invalid_grant")}}
	second, err := NewService(Config{},
		WithRecordStore(store),
		WithClock(clock),
		WithTokenClient(tokens),
	)
	if err != nil {
		t.Fatalf("NewService restart: %v", err)
	}
	defer second.Close()

	startErr := second.Start(ctx)
	if startErr == nil {
		t.Fatal("expected the dead refresh token to surface from Start")
	}
	if !strings.Contains(startErr.Error(), "refresh") {
		t.Fatalf("expected refresh failure, got %v", startErr)
	}
	if got := second.Session().Status(); got != SessionStatusSignedOut {
		t.Fatalf("expected forced sign-out, got %q", got)
	}

	// The failed resume must not block the cold-start pass.
	obligations := second.Obligations().Obligations()
	if len(obligations) != 3 {
		t.Fatalf("expected template plus two occurrences despite resume failure, got %d", len(obligations))
	}
	template := findTemplate(t, obligations)
	if len(template.GeneratedDates) != 3 {
		t.Fatalf("expected anchor plus two generated weeks, got %v", template.GeneratedDates)
	}
}

func findTemplate(t *testing.T, obligations []Obligation) Obligation {
	t.Helper()
	for _, obligation := range obligations {
		if obligation.Recurring {
			return obligation
		}
	}
	t.Fatal("no recurring template found")
	return Obligation{}
}
