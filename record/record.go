// Package record defines the cached entity model and the diff-based merge
// that keeps leaf timestamps honest across refreshes. A leaf is the
// smallest diffable unit: one bookmaker's line for one stat. Its
// LastUpdated moves only when its value fields move, so the dashboard can
// show when a line actually changed rather than when it was last fetched.
package record

import (
	"fmt"
	"strings"
	"time"
)

// LeafID builds the stable identity for a leaf from its bookmaker source
// and stat metric. Diffing keys on this composite rather than on the
// line's value, so a re-quoted or reordered price ladder cannot merge
// unrelated entries.
func LeafID(source, metric string) string {
	return fmt.Sprintf("%s|%s", strings.ToLower(source), strings.ToLower(metric))
}

// SplitLeafID returns the source and metric encoded in a leaf identity.
func SplitLeafID(id string) (source, metric string) {
	source, metric, _ = strings.Cut(id, "|")
	return source, metric
}

// LeafRecord is one bookmaker's quoted prop line for one stat.
// LastUpdated changes only when a value field changes.
type LeafRecord struct {
	Line        float64   `json:"line"`
	OverOdds    float64   `json:"overOdds"`
	UnderOdds   float64   `json:"underOdds"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SameValue reports whether the value fields (not timestamps) are equal.
func (l LeafRecord) SameValue(other LeafRecord) bool {
	return l.Line == other.Line &&
		l.OverOdds == other.OverOdds &&
		l.UnderOdds == other.UnderOdds
}

// StatsSnapshot holds per-game averages for the player.
type StatsSnapshot struct {
	Points   float64 `json:"points"`
	Rebounds float64 `json:"rebounds"`
	Assists  float64 `json:"assists"`
	Threes   float64 `json:"threes"`
	Steals   float64 `json:"steals"`
	Blocks   float64 `json:"blocks"`
	Games    int     `json:"games"`
}

// EntityRecord is the cached per-player record: identity, scope, a stats
// snapshot, and the leaf map of bookmaker lines keyed by LeafID.
type EntityRecord struct {
	EntityID string `json:"entityId"`
	GameID   string `json:"gameId,omitempty"`
	GameDate string `json:"gameDate,omitempty"`
	Team     string `json:"team,omitempty"`

	Stats  StatsSnapshot         `json:"stats"`
	Leaves map[string]LeafRecord `json:"leaves"`

	LastFullScanAt   time.Time `json:"lastFullScanAt,omitempty"`
	LastUpdateScanAt time.Time `json:"lastUpdateScanAt,omitempty"`
}

// Clone returns a deep copy. Records are owned by whichever cache tier
// holds them, so merges never hand back shared leaf maps.
func (r *EntityRecord) Clone() *EntityRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Leaves = make(map[string]LeafRecord, len(r.Leaves))
	for id, leaf := range r.Leaves {
		out.Leaves[id] = leaf
	}
	return &out
}

// LeafCount returns the number of leaves on the record.
func (r *EntityRecord) LeafCount() int {
	if r == nil {
		return 0
	}
	return len(r.Leaves)
}
