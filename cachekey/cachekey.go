// Package cachekey builds deterministic cache keys from semantic
// parameters and assigns each entity class its TTL bucket. Key identity is
// what keeps the two cache tiers and the sync engine agreeing on what a
// record is, so construction lives in one place.
package cachekey

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityType identifies a class of cached data. Each class maps to a TTL
// bucket reflecting how quickly its upstream source moves.
type EntityType string

// Entity classes.
const (
	EntityBulkOdds    EntityType = "bulk_odds"    // cheap bulk odds snapshot
	EntityPlayerProps EntityType = "player_props" // per-player prop lines
	EntityPlayerStats EntityType = "player_stats" // per-player season stats
	EntityRankDerived EntityType = "rank_derived" // computed rank views (e.g. DVP)
	EntityDepthChart  EntityType = "depth_chart"  // team depth charts
	EntityCheckpoint  EntityType = "checkpoint"   // scan progress markers
)

// ttlByEntity maps entity classes to TTL buckets.
var ttlByEntity = map[EntityType]time.Duration{
	EntityBulkOdds:    120 * time.Minute,
	EntityPlayerProps: 120 * time.Minute,
	EntityPlayerStats: 24 * time.Hour,
	EntityRankDerived: 60 * time.Minute,
	EntityDepthChart:  12 * time.Hour,
	EntityCheckpoint:  26 * time.Hour,
}

// defaultTTL applies to entity classes without an explicit bucket.
const defaultTTL = 60 * time.Minute

// Param is a named key parameter.
type Param struct {
	Name  string
	Value string
}

// P is shorthand for constructing a Param.
func P(name, value string) Param {
	return Param{Name: name, Value: value}
}

// BuildKey builds a deterministic cache key for an entity class and its
// scope parameters. Parameter order does not affect the result: params are
// sorted by name before joining. Values are lowercased so upstream
// casing drift cannot alias keys.
func BuildKey(entityType EntityType, params ...Param) string {
	if len(params) == 0 {
		return string(entityType)
	}

	sorted := make([]Param, len(params))
	copy(sorted, params)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString(string(entityType))
	for _, p := range sorted {
		b.WriteByte(':')
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(strings.ToLower(p.Value))
	}
	return b.String()
}

// Prefix returns the key prefix shared by every key of an entity class,
// suitable for admin prefix operations.
func Prefix(entityType EntityType) string {
	return fmt.Sprintf("%s:", entityType)
}

// TTLFor returns the TTL bucket for an entity class.
func TTLFor(entityType EntityType) time.Duration {
	if ttl, ok := ttlByEntity[entityType]; ok {
		return ttl
	}
	return defaultTTL
}
