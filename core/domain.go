package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRecurringWithoutDueDate      = errors.New("core: recurring obligation requires a due date")
	ErrInvalidGeneratedDateKey      = errors.New("core: invalid generated date key")
	ErrInvalidSessionTransition     = errors.New("core: invalid session status transition")
	ErrObligationNotFound           = errors.New("core: obligation not found")
	ErrCredentialExpiresAtRequired  = errors.New("core: credential expiry is required")
	ErrCredentialAccessTokenMissing = errors.New("core: credential access token is required")
)

// ISODateLayout is the key format used for generated occurrence dates.
const ISODateLayout = "2006-01-02"

// Obligation is a user-visible task record, optionally recurring. A recurring
// obligation acts as a template: the recurrence engine materializes dated
// occurrence records from it, tracking which due dates have already been
// generated through GeneratedDates.
type Obligation struct {
	ID             string
	Text           string
	Category       string
	Platform       string
	Completed      bool
	DueDate        *time.Time
	Recurring      bool
	GeneratedDates []string
	CreatedAt      time.Time
}

func (o Obligation) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("core: obligation id is required")
	}
	if o.Recurring && o.DueDate == nil {
		return fmt.Errorf("%w: %q", ErrRecurringWithoutDueDate, o.ID)
	}
	for _, key := range o.GeneratedDates {
		if _, err := time.Parse(ISODateLayout, key); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidGeneratedDateKey, key)
		}
	}
	return nil
}

// HasGenerated reports whether the given ISO date key was already
// materialized for this obligation.
func (o Obligation) HasGenerated(isoDate string) bool {
	for _, key := range o.GeneratedDates {
		if key == isoDate {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. GeneratedDates backing arrays are never shared
// between the committed collection and in-flight reconciliation merges.
func (o Obligation) Clone() Obligation {
	cloned := o
	cloned.GeneratedDates = append([]string(nil), o.GeneratedDates...)
	if o.DueDate != nil {
		due := *o.DueDate
		cloned.DueDate = &due
	}
	return cloned
}

// NewOccurrence materializes one dated instance of a recurring obligation.
// The instance is an independent plain record: it copies the template's text,
// category and platform, carries its own id, and never recurs itself.
func NewOccurrence(parent Obligation, dueAt, createdAt time.Time) Obligation {
	due := dueAt
	return Obligation{
		ID:        uuid.NewString(),
		Text:      parent.Text,
		Category:  parent.Category,
		Platform:  parent.Platform,
		Completed: false,
		DueDate:   &due,
		Recurring: false,
		CreatedAt: createdAt,
	}
}

// CredentialRecord is the persisted OAuth2 token pair. ExpiresAt is derived
// exactly once, at issuance or refresh, from the server's expires_in value.
type CredentialRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (c CredentialRecord) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return ErrCredentialAccessTokenMissing
	}
	if c.ExpiresAt.IsZero() {
		return ErrCredentialExpiresAtRequired
	}
	return nil
}

// RemainingLifetime returns the duration until expiry relative to now.
// Negative for already-expired credentials.
func (c CredentialRecord) RemainingLifetime(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

type SessionStatus string

const (
	SessionStatusSignedOut   SessionStatus = "signed_out"
	SessionStatusAuthorizing SessionStatus = "authorizing"
	SessionStatusSignedIn    SessionStatus = "signed_in"
	SessionStatusRefreshing  SessionStatus = "refreshing"
)

func sessionTransitionAllowed(current, next SessionStatus) bool {
	allowed := map[SessionStatus]map[SessionStatus]struct{}{
		SessionStatusSignedOut: {
			SessionStatusAuthorizing: {},
			SessionStatusSignedIn:    {},
			SessionStatusRefreshing:  {},
		},
		SessionStatusAuthorizing: {
			SessionStatusSignedIn:  {},
			SessionStatusSignedOut: {},
		},
		SessionStatusSignedIn: {
			SessionStatusRefreshing: {},
			SessionStatusSignedOut:  {},
		},
		SessionStatusRefreshing: {
			SessionStatusSignedIn:  {},
			SessionStatusSignedOut: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}
