package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ObligationInput is the mutable surface CRUD callers supply when creating or
// editing an obligation.
type ObligationInput struct {
	Text      string
	Category  string
	Platform  string
	DueDate   *time.Time
	Recurring bool
}

// ReconcileResult reports one reconciliation pass.
type ReconcileResult struct {
	NewOccurrences int
	Persisted      bool
}

// Reconciler owns the obligation collection between reconciliation passes and
// decides when the recurrence engine runs: on load, on foreground transitions
// and after every mutation. All passes and mutations are serialized behind a
// single mutex, and each applies against the latest committed state rather
// than a snapshot taken before it was queued. A merge only becomes committed
// state after the persist succeeds; on write failure the merge is discarded
// and the next trigger regenerates the same occurrences.
type Reconciler struct {
	in instrumented

	store       RecordStore
	clock       Clock
	errorMapper ErrorMapper
	rule        RecurrenceRule

	mu          sync.Mutex
	obligations []Obligation
}

// ReconcilerDeps carries the capabilities the reconciler is constructed with.
// Store and Clock are required.
type ReconcilerDeps struct {
	Store           RecordStore
	Clock           Clock
	Logger          Logger
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	Rule            RecurrenceRule
}

func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("core: record store is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("core: clock is required")
	}
	mapper := deps.ErrorMapper
	if mapper == nil {
		mapper = defaultErrorMapper
	}
	return &Reconciler{
		in: instrumented{
			logger:          deps.Logger,
			metricsRecorder: deps.MetricsRecorder,
		},
		store:       deps.Store,
		clock:       deps.Clock,
		errorMapper: mapper,
		rule:        deps.Rule.normalized(),
	}, nil
}

// Load reads the persisted collection and runs the cold-start pass. A missing
// or garbled payload is treated as an empty collection.
func (r *Reconciler) Load(ctx context.Context) (ReconcileResult, error) {
	if r == nil {
		return ReconcileResult{}, fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := r.store.Get(ctx, RecordKeyObligations)
	if err != nil {
		err = r.mapError(fmt.Errorf("core: read obligation collection: %w", err))
		r.in.observeOperation(ctx, startedAt, "obligations_load", err, nil)
		return ReconcileResult{}, err
	}
	obligations, decodeErr := DecodeObligations(payload)
	if decodeErr != nil {
		r.in.logError(ctx, "obligation payload garbled, starting empty", map[string]any{
			"error": decodeErr.Error(),
		})
		obligations = nil
	}
	r.obligations = obligations

	result, err := r.reconcileLocked(ctx)
	r.in.observeOperation(ctx, startedAt, "obligations_load", err, map[string]any{
		"count":           len(r.obligations),
		"new_occurrences": result.NewOccurrences,
	})
	return result, err
}

// Reconcile runs one engine pass against the committed collection. Hosts call
// it on foreground/active transitions; Load and every mutation call it
// internally.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if r == nil {
		return ReconcileResult{}, fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.reconcileLocked(ctx)
	r.in.observeOperation(ctx, startedAt, "obligations_reconcile", err, map[string]any{
		"new_occurrences": result.NewOccurrences,
	})
	return result, err
}

// reconcileLocked runs the pure engine and commits the merge only after a
// successful persist. Callers hold r.mu.
func (r *Reconciler) reconcileLocked(ctx context.Context) (ReconcileResult, error) {
	materialized := MaterializeOccurrences(r.obligations, r.clock.Now(), r.rule)
	if materialized.NewOccurrences == 0 {
		return ReconcileResult{}, nil
	}

	if err := r.persistLocked(ctx, materialized.Obligations); err != nil {
		// Discard the merge: nothing was marked generated, so the next
		// trigger reproduces these occurrences. The pass is skipped, not
		// fatal.
		skipped := r.mapError(newKitError(
			fmt.Sprintf("core: occurrence merge not persisted, pass skipped: %v", err),
			goerrors.CategoryExternal,
			KitErrorRecurrenceSkipped,
		))
		return ReconcileResult{NewOccurrences: materialized.NewOccurrences}, skipped
	}
	r.obligations = materialized.Obligations
	return ReconcileResult{
		NewOccurrences: materialized.NewOccurrences,
		Persisted:      true,
	}, nil
}

// AddObligation creates a record from the input, pre-seeding the anchor date
// for recurring obligations so the anchor never re-materializes as an
// occurrence of itself, then persists and reconciles.
func (r *Reconciler) AddObligation(ctx context.Context, input ObligationInput) (Obligation, error) {
	if r == nil {
		return Obligation{}, fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	obligation := Obligation{
		ID:        uuid.NewString(),
		Text:      strings.TrimSpace(input.Text),
		Category:  strings.TrimSpace(input.Category),
		Platform:  strings.TrimSpace(input.Platform),
		DueDate:   cloneTimePointer(input.DueDate),
		Recurring: input.Recurring,
		CreatedAt: r.clock.Now(),
	}
	SeedAnchorDate(&obligation)
	if err := obligation.Validate(); err != nil {
		err = r.mapError(err)
		r.in.observeOperation(ctx, startedAt, "obligation_add", err, nil)
		return Obligation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := append(r.cloneCollectionLocked(), obligation)
	if err := r.persistLocked(ctx, next); err != nil {
		r.in.observeOperation(ctx, startedAt, "obligation_add", err, nil)
		return Obligation{}, err
	}
	r.obligations = next

	if _, err := r.reconcileLocked(ctx); err != nil {
		r.in.logError(ctx, "post-add reconciliation not persisted", map[string]any{
			"error": err.Error(),
		})
	}
	r.in.observeOperation(ctx, startedAt, "obligation_add", nil, map[string]any{
		"obligation_id": obligation.ID,
	})
	return obligation.Clone(), nil
}

// UpdateObligation replaces a record by id, re-seeding the anchor when the
// update turns recurrence on or moves the anchor date.
func (r *Reconciler) UpdateObligation(ctx context.Context, updated Obligation) error {
	if r == nil {
		return fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	SeedAnchorDate(&updated)
	if err := updated.Validate(); err != nil {
		err = r.mapError(err)
		r.in.observeOperation(ctx, startedAt, "obligation_update", err, nil)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneCollectionLocked()
	found := false
	for i := range next {
		if next[i].ID == updated.ID {
			// Never let an edit shrink the generated set.
			merged := updated.Clone()
			for _, key := range next[i].GeneratedDates {
				if !merged.HasGenerated(key) {
					merged.GeneratedDates = append(merged.GeneratedDates, key)
				}
			}
			next[i] = merged
			found = true
			break
		}
	}
	if !found {
		err := r.mapError(fmt.Errorf("%w: %q", ErrObligationNotFound, updated.ID))
		r.in.observeOperation(ctx, startedAt, "obligation_update", err, nil)
		return err
	}

	if err := r.persistLocked(ctx, next); err != nil {
		r.in.observeOperation(ctx, startedAt, "obligation_update", err, nil)
		return err
	}
	r.obligations = next

	if _, err := r.reconcileLocked(ctx); err != nil {
		r.in.logError(ctx, "post-update reconciliation not persisted", map[string]any{
			"error": err.Error(),
		})
	}
	r.in.observeOperation(ctx, startedAt, "obligation_update", nil, map[string]any{
		"obligation_id": updated.ID,
	})
	return nil
}

// RemoveObligation deletes a record by id. Deleting a recurring template does
// not retroactively delete materialized occurrences; they are independent
// records once created.
func (r *Reconciler) RemoveObligation(ctx context.Context, id string) error {
	if r == nil {
		return fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Obligation, 0, len(r.obligations))
	found := false
	for _, obligation := range r.obligations {
		if obligation.ID == id {
			found = true
			continue
		}
		next = append(next, obligation.Clone())
	}
	if !found {
		err := r.mapError(fmt.Errorf("%w: %q", ErrObligationNotFound, id))
		r.in.observeOperation(ctx, startedAt, "obligation_remove", err, nil)
		return err
	}

	if err := r.persistLocked(ctx, next); err != nil {
		r.in.observeOperation(ctx, startedAt, "obligation_remove", err, nil)
		return err
	}
	r.obligations = next
	r.in.observeOperation(ctx, startedAt, "obligation_remove", nil, map[string]any{
		"obligation_id": id,
	})
	return nil
}

// ToggleComplete flips the completed flag on a record.
func (r *Reconciler) ToggleComplete(ctx context.Context, id string) error {
	if r == nil {
		return fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneCollectionLocked()
	found := false
	for i := range next {
		if next[i].ID == id {
			next[i].Completed = !next[i].Completed
			found = true
			break
		}
	}
	if !found {
		err := r.mapError(fmt.Errorf("%w: %q", ErrObligationNotFound, id))
		r.in.observeOperation(ctx, startedAt, "obligation_toggle", err, nil)
		return err
	}

	if err := r.persistLocked(ctx, next); err != nil {
		r.in.observeOperation(ctx, startedAt, "obligation_toggle", err, nil)
		return err
	}
	r.obligations = next
	r.in.observeOperation(ctx, startedAt, "obligation_toggle", nil, map[string]any{
		"obligation_id": id,
	})
	return nil
}

// Obligations returns a defensive copy of the committed collection.
func (r *Reconciler) Obligations() []Obligation {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cloneCollectionLocked()
}

func (r *Reconciler) cloneCollectionLocked() []Obligation {
	cloned := make([]Obligation, 0, len(r.obligations))
	for _, obligation := range r.obligations {
		cloned = append(cloned, obligation.Clone())
	}
	return cloned
}

func (r *Reconciler) persistLocked(ctx context.Context, obligations []Obligation) error {
	payload, err := EncodeObligations(obligations)
	if err != nil {
		return r.mapError(err)
	}
	if err := r.store.Set(ctx, RecordKeyObligations, payload); err != nil {
		return r.mapError(fmt.Errorf("core: persist obligation collection: %w", err))
	}
	return nil
}

func (r *Reconciler) mapError(err error) error {
	if err == nil {
		return nil
	}
	if r.errorMapper == nil {
		return err
	}
	mapped := r.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
