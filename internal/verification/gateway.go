// Package verification defines the gateway through which the assessment core
// requests asynchronous verification of volatile evidence: email
// deliverability and dated-file recency. Implementations must be idempotent
// per request and tolerate repeated invocation for the same target; the core
// never blocks on an outcome, it observes verdicts later through the answer
// store.
package verification

import (
	"context"

	"github.com/google/uuid"
)

// Gateway requests verification of evidence already marked pending.
//
// A request that fails to complete leaves the evidence pending indefinitely
// from the core's perspective; re-requesting is the orchestrator's call, the
// core never invents a timeout.
type Gateway interface {
	RequestEmailVerification(ctx context.Context, answerID uuid.UUID) error
	RequestFileVerification(ctx context.Context, answerID uuid.UUID, fileType string) error
}

// Notifier is how verifiers tell the reconciliation loop a verdict landed.
type Notifier interface {
	MarkDirty(answerID uuid.UUID)
}
