package core

import (
	"time"
)

const (
	// DefaultRecurrencePeriod is one week between materialized occurrences.
	DefaultRecurrencePeriod = 7 * 24 * time.Hour

	// DefaultGenerationOffset is the lead time before an occurrence's due
	// date at which it is materialized: six days, so each instance surfaces
	// at the start of the week it is due.
	DefaultGenerationOffset = 6 * 24 * time.Hour
)

// MaterializeResult is the outcome of one engine pass. Obligations holds the
// merged collection: the input records (recurring templates with grown
// GeneratedDates) followed by any newly materialized occurrences.
type MaterializeResult struct {
	Obligations    []Obligation
	NewOccurrences int
}

// RecurrenceRule fixes the period and generation offset for one engine pass.
type RecurrenceRule struct {
	Period           time.Duration
	GenerationOffset time.Duration
}

func (r RecurrenceRule) normalized() RecurrenceRule {
	if r.Period <= 0 {
		r.Period = DefaultRecurrencePeriod
	}
	if r.GenerationOffset <= 0 || r.GenerationOffset >= r.Period {
		r.GenerationOffset = DefaultGenerationOffset
	}
	return r
}

// MaterializeOccurrences runs one recurrence pass over the full collection.
// It is a pure function of (collection, now): no I/O, no mutation of the
// input slice. For every recurring obligation it walks the periodic
// boundaries after the anchor due date and materializes each instance whose
// generation time (due minus offset) has passed and whose ISO date key is not
// yet in GeneratedDates. Re-running against the merged result with the same
// or a later now is a no-op. GeneratedDates only ever grows; a clock that
// moved backward stops the walk early but removes nothing.
func MaterializeOccurrences(obligations []Obligation, now time.Time, rule RecurrenceRule) MaterializeResult {
	rule = rule.normalized()

	merged := make([]Obligation, 0, len(obligations))
	var occurrences []Obligation

	for _, obligation := range obligations {
		if !obligation.Recurring || obligation.DueDate == nil {
			merged = append(merged, obligation.Clone())
			continue
		}

		template := obligation.Clone()
		anchor := *template.DueDate

		for k := 1; ; k++ {
			dueAt := anchor.Add(time.Duration(k) * rule.Period)
			createdAt := dueAt.Add(-rule.GenerationOffset)
			if createdAt.After(now) {
				break
			}

			iso := dueAt.UTC().Format(ISODateLayout)
			if template.HasGenerated(iso) {
				continue
			}
			occurrences = append(occurrences, NewOccurrence(template, dueAt, createdAt))
			template.GeneratedDates = append(template.GeneratedDates, iso)
		}

		merged = append(merged, template)
	}

	merged = append(merged, occurrences...)
	return MaterializeResult{
		Obligations:    merged,
		NewOccurrences: len(occurrences),
	}
}

// SeedAnchorDate marks a recurring obligation's own due date as already
// generated so the anchor never re-materializes as an occurrence of itself.
func SeedAnchorDate(obligation *Obligation) {
	if obligation == nil || !obligation.Recurring || obligation.DueDate == nil {
		return
	}
	iso := obligation.DueDate.UTC().Format(ISODateLayout)
	if obligation.HasGenerated(iso) {
		return
	}
	obligation.GeneratedDates = append(obligation.GeneratedDates, iso)
}
