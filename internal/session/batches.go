package session

import (
	"github.com/google/uuid"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

// StartBatch creates and tracks a new swarm batch for one fan-out
// gate.
func (r *Registry) StartBatch(gate core.GateName) *core.SwarmBatch {
	batch := core.NewSwarmBatch(uuid.NewString(), gate)
	r.batches[batch.BatchID] = batch
	r.log.WithBatch(batch.BatchID).WithGate(string(gate)).Debug("swarm batch started")
	return batch
}

// Batch returns a tracked batch by id.
func (r *Registry) Batch(batchID string) (*core.SwarmBatch, bool) {
	batch, ok := r.batches[batchID]
	return batch, ok
}

// OpenBatches returns the ids of batches not yet dropped.
func (r *Registry) OpenBatches() []string {
	ids := make([]string, 0, len(r.batches))
	for id := range r.batches {
		ids = append(ids, id)
	}
	return ids
}

// DropBatch discards a batch once its results have been folded into
// the owning workflow record. Dropping an unknown or unresolved batch
// is refused so results cannot silently vanish.
func (r *Registry) DropBatch(batchID string) error {
	batch, ok := r.batches[batchID]
	if !ok {
		return core.ErrNotFound("batch", batchID)
	}
	if !batch.Resolved() {
		return core.ErrState("BATCH_UNRESOLVED", "batch still has live sessions")
	}
	delete(r.batches, batchID)
	r.log.WithBatch(batchID).Debug("swarm batch dropped")
	return nil
}
