package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/kyoukan/campuskit/core"
)

const (
	defaultBaseURL     = "https://www.googleapis.com/calendar/v3"
	defaultCacheTTL    = 180 * 24 * time.Hour
	defaultFetchWindow = 365 * 24 * time.Hour
	defaultHTTPTimeout = 15 * time.Second
)

// Event is a flattened calendar entry. Start and End carry either a full
// timestamp or a date-only value for all-day events.
type Event struct {
	ID         string     `json:"id"`
	CalendarID string     `json:"calendar_id"`
	Summary    string     `json:"summary"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end,omitempty"`
	AllDay     bool       `json:"all_day"`
}

// TokenSource supplies the current bearer token. An empty token means no
// signed-in session; authorized calendars are skipped in that case.
type TokenSource interface {
	AccessToken() string
}

// CalendarRef names one calendar to read. Public calendars set an API key
// instead of relying on the session token.
type CalendarRef struct {
	ID     string
	APIKey string
}

type Config struct {
	BaseURL    string
	Calendars  []CalendarRef
	Tokens     TokenSource
	Store      core.RecordStore
	Clock      core.Clock
	Logger     core.Logger
	HTTPClient *http.Client
	CacheTTL   time.Duration
}

// Client reads events from the provider and keeps a long-lived cache in the
// record store so offline reopens still render a schedule.
type Client struct {
	baseURL    string
	calendars  []CalendarRef
	tokens     TokenSource
	store      core.RecordStore
	clock      core.Clock
	logger     core.Logger
	httpClient *http.Client
	ttl        time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("calendar: record store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("calendar: clock is required")
	}
	if len(cfg.Calendars) == 0 {
		return nil, fmt.Errorf("calendar: at least one calendar is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		_, logger = glog.Resolve("campuskit:calendar", nil, nil)
		logger = glog.Ensure(logger)
	}

	return &Client{
		baseURL:    baseURL,
		calendars:  append([]CalendarRef(nil), cfg.Calendars...),
		tokens:     cfg.Tokens,
		store:      cfg.Store,
		clock:      cfg.Clock,
		logger:     logger,
		httpClient: httpClient,
		ttl:        ttl,
	}, nil
}

type cacheEnvelope struct {
	FetchedAt time.Time `json:"fetched_at"`
	Events    []Event   `json:"events"`
}

// Events returns the merged event list across configured calendars. A fresh
// cache short-circuits the network; force bypasses it. Per-calendar failures
// skip that calendar so one bad feed does not blank the schedule.
func (c *Client) Events(ctx context.Context, force bool) ([]Event, error) {
	if c == nil {
		return nil, fmt.Errorf("calendar: client is not configured")
	}
	now := c.clock.Now().UTC()

	if !force {
		if cached, ok := c.readCache(ctx, now); ok {
			return cached, nil
		}
	}

	merged := make([]Event, 0, 16)
	fetched := 0
	for _, ref := range c.calendars {
		events, err := c.fetchCalendar(ctx, ref, now)
		if err != nil {
			c.logger.Info("calendar fetch skipped", "calendar_id", ref.ID, "error", err)
			continue
		}
		merged = append(merged, events...)
		fetched++
	}

	if fetched == 0 && len(merged) == 0 {
		// Nothing reachable; keep whatever the cache had rather than
		// overwriting it with an empty snapshot.
		if cached, ok := c.readCacheIgnoringTTL(ctx); ok {
			return cached, nil
		}
		return []Event{}, nil
	}

	c.writeCache(ctx, now, merged)
	return merged, nil
}

func (c *Client) readCache(ctx context.Context, now time.Time) ([]Event, bool) {
	envelope, ok := c.loadEnvelope(ctx)
	if !ok {
		return nil, false
	}
	if now.Sub(envelope.FetchedAt) > c.ttl {
		return nil, false
	}
	return envelope.Events, true
}

func (c *Client) readCacheIgnoringTTL(ctx context.Context) ([]Event, bool) {
	envelope, ok := c.loadEnvelope(ctx)
	if !ok {
		return nil, false
	}
	return envelope.Events, true
}

func (c *Client) loadEnvelope(ctx context.Context) (cacheEnvelope, bool) {
	payload, err := c.store.Get(ctx, core.RecordKeyCalendarCache)
	if err != nil || len(payload) == 0 {
		return cacheEnvelope{}, false
	}
	envelope := cacheEnvelope{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// Garbled cache reads as absent.
		return cacheEnvelope{}, false
	}
	if envelope.FetchedAt.IsZero() {
		return cacheEnvelope{}, false
	}
	return envelope, true
}

func (c *Client) writeCache(ctx context.Context, now time.Time, events []Event) {
	payload, err := json.Marshal(cacheEnvelope{FetchedAt: now, Events: events})
	if err != nil {
		c.logger.Error("calendar cache encode failed", "error", err)
		return
	}
	if err := c.store.Set(ctx, core.RecordKeyCalendarCache, payload); err != nil {
		// Cache write failures do not fail the fetch.
		c.logger.Error("calendar cache write failed", "error", err)
	}
}

type eventListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Status  string `json:"status"`
		Start   struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"end"`
	} `json:"items"`
}

func (c *Client) fetchCalendar(ctx context.Context, ref CalendarRef, now time.Time) ([]Event, error) {
	calendarID := strings.TrimSpace(ref.ID)
	if calendarID == "" {
		return nil, fmt.Errorf("calendar: calendar id is required")
	}

	token := ""
	if ref.APIKey == "" {
		if c.tokens != nil {
			token = strings.TrimSpace(c.tokens.AccessToken())
		}
		if token == "" {
			return nil, fmt.Errorf("calendar: no access token for %q", calendarID)
		}
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	query := url.Values{
		"orderBy":      {"startTime"},
		"singleEvents": {"true"},
		"timeMin":      {now.Format(time.RFC3339)},
		"timeMax":      {now.Add(defaultFetchWindow).Format(time.RFC3339)},
	}
	if ref.APIKey != "" {
		query.Set("key", ref.APIKey)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: build request: %w", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch %q: %w", calendarID, err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("calendar: read response for %q: %w", calendarID, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar: fetch %q: status %d", calendarID, response.StatusCode)
	}

	decoded := eventListResponse{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("calendar: decode response for %q: %w", calendarID, err)
	}

	events := make([]Event, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if item.Status == "cancelled" {
			continue
		}
		start, allDay, err := parseEventTime(item.Start.DateTime, item.Start.Date)
		if err != nil {
			continue
		}
		event := Event{
			ID:         item.ID,
			CalendarID: calendarID,
			Summary:    item.Summary,
			Start:      start,
			AllDay:     allDay,
		}
		if end, _, endErr := parseEventTime(item.End.DateTime, item.End.Date); endErr == nil {
			event.End = &end
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEventTime(dateTime, date string) (time.Time, bool, error) {
	if dateTime = strings.TrimSpace(dateTime); dateTime != "" {
		parsed, err := time.Parse(time.RFC3339, dateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("calendar: parse time %q: %w", dateTime, err)
		}
		return parsed.UTC(), false, nil
	}
	if date = strings.TrimSpace(date); date != "" {
		parsed, err := time.Parse(core.ISODateLayout, date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("calendar: parse date %q: %w", date, err)
		}
		return parsed.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("calendar: event has no start")
}
