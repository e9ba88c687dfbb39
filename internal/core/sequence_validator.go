package core

import (
	"PerpLiquidator/internal/observability"
	"fmt"
)

// SequenceValidator validates upstream source sequences per partition.
// Sequence 0 marks an unsequenced event and is never validated; sequenced
// partitions start at 1. Guarded by the engine lock.
type SequenceValidator struct {
	lastSeen map[string]int64 // partition -> last accepted sequence
	metrics  *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		lastSeen: make(map[string]int64),
		metrics:  metrics,
	}
}

// CheckSequence checks strict ordering within a partition without
// recording the sequence. Commit records it once the event is applied, so
// a rejected event leaves its sequence free for a corrected resend.
func (sv *SequenceValidator) CheckSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.lastSeen[partition] + 1

	switch {
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)

	case sourceSequence > expected:
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
	return nil
}

// Commit records an applied sequence for a partition
func (sv *SequenceValidator) Commit(partition string, sourceSequence int64) {
	if sourceSequence > sv.lastSeen[partition] {
		sv.lastSeen[partition] = sourceSequence
	}
}

// CheckPrice reports whether a price update is newer than the last applied
// one. Gaps are tolerated; stale updates are skipped without error.
func (sv *SequenceValidator) CheckPrice(key string, priceSequence int64) bool {
	if priceSequence == 0 {
		return true
	}
	return priceSequence > sv.lastSeen[pricePartition(key)]
}

// CommitPrice records an applied price sequence
func (sv *SequenceValidator) CommitPrice(key string, priceSequence int64) {
	if priceSequence == 0 {
		return
	}
	partition := pricePartition(key)
	last := sv.lastSeen[partition]
	if priceSequence <= last {
		return
	}
	if priceSequence > last+1 && last != 0 && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	sv.lastSeen[partition] = priceSequence
}

func pricePartition(key string) string {
	return fmt.Sprintf("price:%s", key)
}

// Partitions returns a copy of all partition positions (for snapshots)
func (sv *SequenceValidator) Partitions() map[string]int64 {
	result := make(map[string]int64, len(sv.lastSeen))
	for k, v := range sv.lastSeen {
		result[k] = v
	}
	return result
}

// RestorePartition sets a partition position (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, lastSeen int64) {
	sv.lastSeen[partition] = lastSeen
}
