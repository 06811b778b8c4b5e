package domain

import (
	"fmt"
	"time"
)

type BatchState string

const (
	BatchReceived   BatchState = "received"
	BatchValidating BatchState = "validating"
	BatchProcessing BatchState = "processing"
	BatchPartial    BatchState = "partial"
	BatchSuccess    BatchState = "success"
	BatchFailed     BatchState = "failed"
)

var batchTransitions = map[BatchState][]BatchState{
	BatchReceived:   {BatchValidating, BatchFailed},
	BatchValidating: {BatchProcessing, BatchFailed},
	BatchProcessing: {BatchPartial, BatchSuccess, BatchFailed},
}

func (s BatchState) Terminal() bool {
	return s == BatchPartial || s == BatchSuccess || s == BatchFailed
}

type RowOutcomeKind string

const (
	OutcomeCreated RowOutcomeKind = "created"
	OutcomeUpdated RowOutcomeKind = "updated"
	OutcomeSkipped RowOutcomeKind = "skipped"
	OutcomeError   RowOutcomeKind = "error"
)

type RowOutcome struct {
	Row     int            `json:"row"`
	Outcome RowOutcomeKind `json:"outcome"`
	ID      int64          `json:"id,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message,omitempty"`
}

type ImportOptions struct {
	Encoding  string
	Delimiter rune
	Atomic    bool
	FileName  string
}

type ImportBatch struct {
	ID         string
	EntityID   string
	FileName   string
	Encoding   string
	Atomic     bool
	State      BatchState
	Created    int
	Updated    int
	Skipped    int
	Errors     int
	Message    string
	Rows       []RowOutcome
	ActorID    *int64
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Advance moves the batch to next, refusing transitions the state machine does not allow.
func (b *ImportBatch) Advance(next BatchState) error {
	for _, allowed := range batchTransitions[b.State] {
		if allowed == next {
			b.State = next
			return nil
		}
	}
	return fmt.Errorf("import batch %s: illegal transition %s -> %s", b.ID, b.State, next)
}

func (b *ImportBatch) Record(o RowOutcome) {
	b.Rows = append(b.Rows, o)
	switch o.Outcome {
	case OutcomeCreated:
		b.Created++
	case OutcomeUpdated:
		b.Updated++
	case OutcomeSkipped:
		b.Skipped++
	case OutcomeError:
		b.Errors++
	}
}

// Settle picks the terminal state from the row counts.
func (b *ImportBatch) Settle() BatchState {
	applied := b.Created + b.Updated + b.Skipped
	switch {
	case b.Errors == 0:
		return BatchSuccess
	case applied > 0 && !b.Atomic:
		return BatchPartial
	default:
		return BatchFailed
	}
}
