package record

import "time"

// MergeMode selects how a fresh fetch is folded into the cached record.
type MergeMode int

const (
	// FullReplace discards the existing record entirely. Used for the
	// first-ever scan of an entity and for explicit full refreshes.
	FullReplace MergeMode = iota
	// Incremental compares leaf by leaf, keeping the existing leaf (and
	// its timestamp) verbatim wherever the value fields are unchanged.
	Incremental
)

// MergeResult reports the merged record and how many leaves changed.
type MergeResult struct {
	Record    *EntityRecord
	Updated   int
	Unchanged int
}

// MergeOption tunes merge behavior.
type MergeOption func(*mergeOptions)

type mergeOptions struct {
	evictStaleLeaves bool
}

// WithStaleLeafEviction drops leaves the upstream no longer returns.
// The default preserves them: a bookmaker pulling a line is not the same
// as the line never having existed.
func WithStaleLeafEviction() MergeOption {
	return func(o *mergeOptions) { o.evictStaleLeaves = true }
}

// Merge folds fresh into existing at leaf granularity and stamps now onto
// every leaf whose value fields changed. Applying the same fresh payload
// twice is idempotent: the second merge reports zero updated leaves and
// leaves every timestamp untouched.
func Merge(existing, fresh *EntityRecord, mode MergeMode, now time.Time, options ...MergeOption) MergeResult {
	opts := &mergeOptions{}
	for _, opt := range options {
		opt(opts)
	}

	if mode == FullReplace || existing == nil {
		out := fresh.Clone()
		for id, leaf := range out.Leaves {
			leaf.LastUpdated = now
			out.Leaves[id] = leaf
		}
		out.LastFullScanAt = now
		out.LastUpdateScanAt = now
		return MergeResult{Record: out, Updated: len(out.Leaves)}
	}

	out := fresh.Clone()
	out.Leaves = make(map[string]LeafRecord, len(fresh.Leaves))
	out.LastFullScanAt = existing.LastFullScanAt
	out.LastUpdateScanAt = now

	result := MergeResult{Record: out}

	for id, freshLeaf := range fresh.Leaves {
		if existingLeaf, ok := existing.Leaves[id]; ok && existingLeaf.SameValue(freshLeaf) {
			// Unchanged: keep the existing leaf with its original timestamp.
			out.Leaves[id] = existingLeaf
			result.Unchanged++
			continue
		}
		freshLeaf.LastUpdated = now
		out.Leaves[id] = freshLeaf
		result.Updated++
	}

	if !opts.evictStaleLeaves {
		for id, existingLeaf := range existing.Leaves {
			if _, ok := out.Leaves[id]; !ok {
				out.Leaves[id] = existingLeaf
			}
		}
	}

	return result
}
