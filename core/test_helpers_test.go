package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// manualClock is a deterministic Clock: timers fire only when the test
// advances time, and arm/cancel counts are observable.
type manualClock struct {
	mu       sync.Mutex
	now      time.Time
	nextID   int
	timers   map[int]*manualTimer
	armed    int
	canceled int
}

type manualTimer struct {
	id       int
	clock    *manualClock
	deadline time.Time
	fn       func()
	stopped  bool
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{
		now:    now,
		timers: map[int]*manualTimer{},
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration, fn func()) TimerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.armed++
	timer := &manualTimer{
		id:       c.nextID,
		clock:    c,
		deadline: c.now.Add(d),
		fn:       fn,
	}
	c.timers[timer.id] = timer
	return timer
}

func (t *manualTimer) Cancel() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	t.clock.canceled++
	delete(t.clock.timers, t.id)
	return true
}

// Advance moves the clock forward and fires due timers in deadline order.
// Callbacks run without the clock lock held so they may re-arm.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, timer := range c.timers {
		if !timer.deadline.After(c.now) {
			due = append(due, timer)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, timer := range due {
		timer.stopped = true
		delete(c.timers, timer.id)
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

func (c *manualClock) liveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// flakyRecordStore wraps a MemoryRecordStore and fails writes on demand.
type flakyRecordStore struct {
	*MemoryRecordStore
	mu       sync.Mutex
	failSets int
	sets     int
}

func newFlakyRecordStore() *flakyRecordStore {
	return &flakyRecordStore{MemoryRecordStore: NewMemoryRecordStore()}
}

func (s *flakyRecordStore) Set(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	s.sets++
	fail := s.failSets > 0
	if fail {
		s.failSets--
	}
	s.mu.Unlock()

	if fail {
		return fmt.Errorf("disk full")
	}
	return s.MemoryRecordStore.Set(ctx, key, payload)
}

func (s *flakyRecordStore) failNextSets(n int) {
	s.mu.Lock()
	s.failSets = n
	s.mu.Unlock()
}

// scriptedTokenClient replays canned token responses.
type scriptedTokenClient struct {
	mu           sync.Mutex
	exchangeErr  error
	exchangeResp Token
	refreshErrs  []error
	refreshResp  Token
	exchanges    int
	refreshes    int
	lastRefresh  string
}

func (c *scriptedTokenClient) Exchange(_ context.Context, code, codeVerifier string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges++
	if c.exchangeErr != nil {
		return Token{}, c.exchangeErr
	}
	return c.exchangeResp, nil
}

func (c *scriptedTokenClient) Refresh(_ context.Context, refreshToken string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefresh = refreshToken
	index := c.refreshes
	c.refreshes++
	if index < len(c.refreshErrs) && c.refreshErrs[index] != nil {
		return Token{}, c.refreshErrs[index]
	}
	return c.refreshResp, nil
}

// blockingTokenClient parks Refresh until released so a test can interleave
// other calls with an in-flight refresh.
type blockingTokenClient struct {
	entered chan struct{}
	release chan struct{}
	resp    Token
}

func newBlockingTokenClient(resp Token) *blockingTokenClient {
	return &blockingTokenClient{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		resp:    resp,
	}
}

func (c *blockingTokenClient) Exchange(context.Context, string, string) (Token, error) {
	return Token{}, fmt.Errorf("exchange not scripted")
}

func (c *blockingTokenClient) Refresh(context.Context, string) (Token, error) {
	close(c.entered)
	<-c.release
	return c.resp, nil
}

// recordingObserver collects session events.
type recordingObserver struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (o *recordingObserver) SessionChanged(event SessionEvent) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
}

func (o *recordingObserver) kinds() []SessionEventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]SessionEventKind, 0, len(o.events))
	for _, event := range o.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func mustDate(t string) time.Time {
	parsed, err := time.Parse(ISODateLayout, t)
	if err != nil {
		panic(err)
	}
	return parsed
}

func daysFrom(anchor time.Time, days int) time.Time {
	return anchor.Add(time.Duration(days) * 24 * time.Hour)
}
