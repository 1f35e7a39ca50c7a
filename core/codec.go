package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type jsonObligationPayload struct {
	ID             string     `json:"id"`
	Text           string     `json:"text,omitempty"`
	Category       string     `json:"category,omitempty"`
	Platform       string     `json:"platform,omitempty"`
	Completed      bool       `json:"completed"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Recurring      bool       `json:"recurring,omitempty"`
	GeneratedDates []string   `json:"generated_dates,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

type jsonCredentialPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// EncodeObligations serializes the full obligation collection for the record
// store.
func EncodeObligations(obligations []Obligation) ([]byte, error) {
	payload := make([]jsonObligationPayload, 0, len(obligations))
	for _, obligation := range obligations {
		payload = append(payload, jsonObligationPayload{
			ID:             strings.TrimSpace(obligation.ID),
			Text:           obligation.Text,
			Category:       obligation.Category,
			Platform:       obligation.Platform,
			Completed:      obligation.Completed,
			DueDate:        cloneTimePointer(obligation.DueDate),
			Recurring:      obligation.Recurring,
			GeneratedDates: append([]string(nil), obligation.GeneratedDates...),
			CreatedAt:      obligation.CreatedAt,
		})
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode obligations: %w", err)
	}
	return encoded, nil
}

// DecodeObligations parses a persisted obligation collection. A nil or empty
// payload decodes to an empty collection; records missing an id are dropped
// rather than failing the whole load.
func DecodeObligations(payload []byte) ([]Obligation, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var decoded []jsonObligationPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("core: decode obligations: %w", err)
	}
	obligations := make([]Obligation, 0, len(decoded))
	for _, record := range decoded {
		if strings.TrimSpace(record.ID) == "" {
			continue
		}
		obligations = append(obligations, Obligation{
			ID:             strings.TrimSpace(record.ID),
			Text:           record.Text,
			Category:       record.Category,
			Platform:       record.Platform,
			Completed:      record.Completed,
			DueDate:        cloneTimePointer(record.DueDate),
			Recurring:      record.Recurring,
			GeneratedDates: append([]string(nil), record.GeneratedDates...),
			CreatedAt:      record.CreatedAt,
		})
	}
	return obligations, nil
}

// EncodeCredential serializes a credential record for the record store.
func EncodeCredential(credential CredentialRecord) ([]byte, error) {
	if err := credential.Validate(); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(jsonCredentialPayload{
		AccessToken:  strings.TrimSpace(credential.AccessToken),
		RefreshToken: strings.TrimSpace(credential.RefreshToken),
		ExpiresAt:    credential.ExpiresAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: encode credential: %w", err)
	}
	return encoded, nil
}

// DecodeCredential parses a persisted credential record. Absent or garbled
// payloads decode to (nil, nil): a missing credential is the signed-out
// state, never a hard error.
func DecodeCredential(payload []byte) (*CredentialRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, nil
	}
	credential := CredentialRecord{
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		ExpiresAt:    decoded.ExpiresAt,
	}
	if credential.Validate() != nil {
		return nil, nil
	}
	return &credential, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
