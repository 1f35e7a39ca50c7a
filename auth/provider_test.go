package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kyoukan/campuskit/core"
)

func newTestClient(t *testing.T, discovery Discovery) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Discovery:   discovery,
		ClientID:    "client-123",
		RedirectURI: "http://127.0.0.1:8089/callback",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_RequiresClientID(t *testing.T) {
	_, err := NewClient(Config{Discovery: GoogleDiscovery(), ClientID: "   "})
	if err == nil {
		t.Fatal("expected missing client id to be rejected")
	}
}

func TestNewClientFromProvider_FallsBackToGoogleEndpoints(t *testing.T) {
	client, err := NewClientFromProvider(core.ProviderConfig{
		ClientID:    "client-123",
		RedirectURI: "http://127.0.0.1:8089/callback",
		TokenURL:    "http://127.0.0.1:9999/token",
	})
	if err != nil {
		t.Fatalf("NewClientFromProvider: %v", err)
	}
	if got := client.oauth.Endpoint.TokenURL; got != "http://127.0.0.1:9999/token" {
		t.Fatalf("expected token endpoint override, got %q", got)
	}
	if got := client.oauth.Endpoint.AuthURL; got != GoogleDiscovery().AuthorizationEndpoint {
		t.Fatalf("expected Google authorization endpoint fallback, got %q", got)
	}
	if got := client.revocation; got != GoogleDiscovery().RevocationEndpoint {
		t.Fatalf("expected Google revocation endpoint fallback, got %q", got)
	}
}

func TestBeginAuthorization_CarriesPKCEChallenge(t *testing.T) {
	client := newTestClient(t, GoogleDiscovery())

	request, err := client.BeginAuthorization()
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	if request.State == "" || request.CodeVerifier == "" {
		t.Fatalf("expected state and verifier to be generated, got %+v", request)
	}

	parsed, err := url.Parse(request.URL)
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}
	query := parsed.Query()
	if got := query.Get("state"); got != request.State {
		t.Fatalf("state mismatch: url %q, request %q", got, request.State)
	}
	if got := query.Get("code_challenge_method"); got != "S256" {
		t.Fatalf("expected S256 challenge method, got %q", got)
	}
	if query.Get("code_challenge") == "" {
		t.Fatal("expected code_challenge in authorization URL")
	}
	if got := query.Get("access_type"); got != "offline" {
		t.Fatalf("expected offline access_type, got %q", got)
	}
	if got := query.Get("prompt"); got != "consent" {
		t.Fatalf("expected consent prompt, got %q", got)
	}
	if got := query.Get("client_id"); got != "client-123" {
		t.Fatalf("unexpected client_id %q", got)
	}

	second, err := client.BeginAuthorization()
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	if second.State == request.State || second.CodeVerifier == request.CodeVerifier {
		t.Fatal("expected fresh state and verifier per authorization attempt")
	}
}

func TestExchange_SendsCodeAndVerifier(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	client := newTestClient(t, Discovery{
		AuthorizationEndpoint: server.URL + "/auth",
		TokenEndpoint:         server.URL + "/token",
	})

	token, err := client.Exchange(context.Background(), "code-abc", "verifier-xyz")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-1" || token.ExpiresIn != 3600 {
		t.Fatalf("unexpected token %+v", token)
	}
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %q", got)
	}
	if got := form.Get("code"); got != "code-abc" {
		t.Fatalf("unexpected code %q", got)
	}
	if got := form.Get("code_verifier"); got != "verifier-xyz" {
		t.Fatalf("unexpected code_verifier %q", got)
	}
}

func TestRefresh_PostsRefreshGrant(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-2",
			"expires_in":   1800,
		})
	}))
	defer server.Close()

	client := newTestClient(t, Discovery{
		AuthorizationEndpoint: server.URL + "/auth",
		TokenEndpoint:         server.URL + "/token",
	})

	token, err := client.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token.AccessToken != "access-2" || token.ExpiresIn != 1800 {
		t.Fatalf("unexpected token %+v", token)
	}
	if token.RefreshToken != "" {
		t.Fatalf("expected omitted refresh token to stay empty, got %q", token.RefreshToken)
	}
	if got := form.Get("grant_type"); got != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", got)
	}
	if got := form.Get("refresh_token"); got != "refresh-1" {
		t.Fatalf("unexpected refresh_token %q", got)
	}
	if got := form.Get("client_id"); got != "client-123" {
		t.Fatalf("unexpected client_id %q", got)
	}
}

func TestRefresh_SurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client := newTestClient(t, Discovery{
		AuthorizationEndpoint: server.URL + "/auth",
		TokenEndpoint:         server.URL + "/token",
	})

	_, err := client.Refresh(context.Background(), "revoked-token")
	if err == nil {
		t.Fatal("expected provider rejection to surface")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestRefresh_RejectsEmptyToken(t *testing.T) {
	client := newTestClient(t, GoogleDiscovery())
	if _, err := client.Refresh(context.Background(), "  "); err == nil {
		t.Fatal("expected empty refresh token to be rejected")
	}
}

func TestRevoke_BestEffort(t *testing.T) {
	revoked := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("token"); got != "access-1" {
			t.Fatalf("unexpected token %q", got)
		}
		revoked = true
	}))
	defer server.Close()

	client := newTestClient(t, Discovery{
		AuthorizationEndpoint: server.URL + "/auth",
		TokenEndpoint:         server.URL + "/token",
		RevocationEndpoint:    server.URL + "/revoke",
	})
	if err := client.Revoke(context.Background(), "access-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !revoked {
		t.Fatal("expected revocation endpoint to be called")
	}

	// No revocation endpoint configured is a no-op.
	bare := newTestClient(t, Discovery{
		AuthorizationEndpoint: server.URL + "/auth",
		TokenEndpoint:         server.URL + "/token",
	})
	if err := bare.Revoke(context.Background(), "access-1"); err != nil {
		t.Fatalf("Revoke without endpoint: %v", err)
	}
}
