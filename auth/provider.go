package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kyoukan/campuskit/core"
)

const defaultHTTPTimeout = 15 * time.Second

// Discovery is the identity provider's fixed endpoint document.
type Discovery struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RevocationEndpoint    string
}

func (d Discovery) Validate() error {
	if strings.TrimSpace(d.AuthorizationEndpoint) == "" {
		return fmt.Errorf("auth: authorization endpoint is required")
	}
	if strings.TrimSpace(d.TokenEndpoint) == "" {
		return fmt.Errorf("auth: token endpoint is required")
	}
	return nil
}

// GoogleDiscovery returns the fixed Google OAuth2 endpoint document.
func GoogleDiscovery() Discovery {
	return Discovery{
		AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		RevocationEndpoint:    "https://oauth2.googleapis.com/revoke",
	}
}

// DefaultScopes is the identity + read-only calendar scope set.
func DefaultScopes() []string {
	return []string{
		"openid",
		"profile",
		"email",
		"https://www.googleapis.com/auth/calendar.readonly",
		"https://www.googleapis.com/auth/calendar.events.readonly",
	}
}

type Config struct {
	Discovery   Discovery
	ClientID    string
	RedirectURI string
	Scopes      []string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// AuthorizationRequest carries everything the host needs to drive the
// redirect: the URL to open, the state to check on callback and the PKCE
// verifier to hand back to Exchange.
type AuthorizationRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// Client talks to the identity provider. It implements core.TokenClient: the
// session manager owns refresh timing, so Refresh is a single hand-driven
// token-endpoint POST rather than an oauth2.TokenSource.
type Client struct {
	oauth      oauth2.Config
	revocation string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Discovery.Validate(); err != nil {
		return nil, err
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("auth: client id is required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:    clientID,
			RedirectURL: strings.TrimSpace(cfg.RedirectURI),
			Scopes:      append([]string(nil), scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Discovery.AuthorizationEndpoint,
				TokenURL: cfg.Discovery.TokenEndpoint,
			},
		},
		revocation: strings.TrimSpace(cfg.Discovery.RevocationEndpoint),
		httpClient: httpClient,
	}, nil
}

// NewClientFromProvider builds a client from the resolved provider
// configuration. Endpoint URLs the config leaves empty fall back to the
// Google discovery document.
func NewClientFromProvider(cfg core.ProviderConfig) (*Client, error) {
	discovery := GoogleDiscovery()
	if url := strings.TrimSpace(cfg.AuthURL); url != "" {
		discovery.AuthorizationEndpoint = url
	}
	if url := strings.TrimSpace(cfg.TokenURL); url != "" {
		discovery.TokenEndpoint = url
	}
	if url := strings.TrimSpace(cfg.RevocationURL); url != "" {
		discovery.RevocationEndpoint = url
	}
	return NewClient(Config{
		Discovery:   discovery,
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
	})
}

// BeginAuthorization generates a fresh state and PKCE verifier pair and the
// authorization URL carrying the S256 challenge. The provider is asked for
// offline access so a refresh token comes back with the first grant.
func (c *Client) BeginAuthorization() (AuthorizationRequest, error) {
	if c == nil {
		return AuthorizationRequest{}, fmt.Errorf("auth: client is not configured")
	}
	state, err := generateState()
	if err != nil {
		return AuthorizationRequest{}, err
	}
	verifier := oauth2.GenerateVerifier()

	authURL := c.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return AuthorizationRequest{
		URL:          authURL,
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// Exchange redeems an authorization code with its PKCE verifier.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (core.Token, error) {
	if c == nil {
		return core.Token{}, fmt.Errorf("auth: client is not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.Token{}, fmt.Errorf("auth: authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return core.Token{}, fmt.Errorf("auth: code exchange failed: %w", err)
	}

	expiresIn := token.ExpiresIn
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry) / time.Second)
	}
	return core.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh runs the refresh_token grant. Carrying an omitted refresh token
// forward is the caller's concern; the raw response is returned as-is.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (core.Token, error) {
	if c == nil {
		return core.Token{}, fmt.Errorf("auth: client is not configured")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.Token{}, fmt.Errorf("auth: refresh token is required")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.oauth.ClientID},
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return core.Token{}, fmt.Errorf("auth: build refresh request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return core.Token{}, fmt.Errorf("auth: token refresh failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return core.Token{}, fmt.Errorf("auth: read refresh response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return core.Token{}, fmt.Errorf("auth: token refresh failed: %d %s", response.StatusCode, trimBody(body))
	}

	decoded := tokenEndpointResponse{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.Token{}, fmt.Errorf("auth: decode refresh response: %w", err)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return core.Token{}, fmt.Errorf("auth: refresh response missing access token")
	}
	return core.Token{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		ExpiresIn:    decoded.ExpiresIn,
	}, nil
}

// Revoke invalidates a token at the provider. Best effort on sign-out; a
// missing revocation endpoint is not an error.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if c == nil || c.revocation == "" || strings.TrimSpace(token) == "" {
		return nil
	}
	form := url.Values{"token": {strings.TrimSpace(token)}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revocation, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("auth: build revoke request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("auth: token revocation failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("auth: token revocation failed: %d", response.StatusCode)
	}
	return nil
}

func generateState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func trimBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256] + "..."
	}
	return text
}

var _ core.TokenClient = (*Client)(nil)
