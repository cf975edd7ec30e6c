package tiercache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/cache"
)

// CategoryCounts breaks down one durable category.
type CategoryCounts struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Stats is the operator view of both tiers.
type Stats struct {
	Ephemeral struct {
		Counts  cache.Counts       `json:"counts"`
		Summary cache.StatsSummary `json:"summary"`
	} `json:"ephemeral"`
	Durable struct {
		ByCategory map[string]CategoryCounts `json:"byCategory"`
	} `json:"durable"`
}

// StatsReport gathers occupancy and counter stats across tiers.
func (s *Service) StatsReport(ctx context.Context) Stats {
	var out Stats
	out.Ephemeral.Counts = s.mem.Counts()
	out.Ephemeral.Summary = s.mem.Stats().Summary()

	out.Durable.ByCategory = make(map[string]CategoryCounts)
	for _, info := range s.durable.Entries(ctx) {
		c := out.Durable.ByCategory[info.Category]
		c.Total++
		if info.Expired {
			c.Expired++
		} else {
			c.Valid++
		}
		out.Durable.ByCategory[info.Category] = c
	}
	return out
}

// ClearRequest selects keys by exact match or prefix. DryRun reports what
// would be removed without removing it.
type ClearRequest struct {
	Key    string `json:"key,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// ClearReport lists the keys a clear touched (or would touch).
type ClearReport struct {
	Keys   []string `json:"keys"`
	DryRun bool     `json:"dryRun"`
}

// Clear removes matching keys from both tiers, or reports them on DryRun.
func (s *Service) Clear(ctx context.Context, req ClearRequest) (ClearReport, error) {
	if req.Key == "" && req.Prefix == "" {
		return ClearReport{}, errors.WrapPermanent(
			fmt.Errorf("either key or prefix is required"),
			"Service", "Clear", "request validation")
	}

	matched := make(map[string]struct{})
	if req.Key != "" {
		if _, found, _ := s.mem.GetStale(req.Key); found {
			matched[req.Key] = struct{}{}
		}
		if _, _, ok := s.durable.GetWithStale(ctx, req.Key); ok {
			matched[req.Key] = struct{}{}
		}
	} else {
		for _, key := range s.mem.KeysWithPrefix(req.Prefix) {
			matched[key] = struct{}{}
		}
		for _, info := range s.durable.Entries(ctx) {
			if strings.HasPrefix(info.Key, req.Prefix) {
				matched[info.Key] = struct{}{}
			}
		}
	}

	keys := make([]string, 0, len(matched))
	for key := range matched {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if !req.DryRun {
		for _, key := range keys {
			s.Delete(ctx, key)
		}
	}

	return ClearReport{Keys: keys, DryRun: req.DryRun}, nil
}
