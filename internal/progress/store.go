// Package progress tracks ephemeral per-subject pipeline-stage state for
// polling consumers. Entries self-expire after a fixed TTL independent of
// pipeline completion.
package progress

import (
	"context"
	"time"

	"github.com/powlabs/proofwork/internal/types"
)

// TTL is how long a progress entry stays readable after its last update.
const TTL = 5 * time.Minute

// Pipeline stages reported through the tracker.
const (
	StageFetching  = "fetching"
	StageAnalyzing = "analyzing"
	StageScoring   = "scoring"
	StageComplete  = "complete"
	StageFailed    = "failed"
)

// Store is the progress tracker abstraction. Every operation is keyed by
// subject; concurrent writers for different subjects never contend.
type Store interface {
	// Set overwrites the subject's entry with a fresh timestamp.
	Set(ctx context.Context, subject, stage, message string, percent int) error
	// Get returns the subject's entry unless its age exceeds the TTL, in
	// which case the entry is evicted and ok is false.
	Get(ctx context.Context, subject string) (types.ProgressState, bool, error)
}
