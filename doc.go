// Package stattrackr keeps a sports betting odds dashboard fast and
// cheap to run against a rate-limited stats provider.
//
// # Architecture
//
// Two cache tiers front every read:
//
//   - Ephemeral tier: an in-process TTL cache (pkg/cache) that answers
//     hot reads and is swept in the background.
//   - Durable tier: NATS JetStream KV (natskv, tiercache.Durable) that
//     survives restarts and fails soft when the transport is down.
//
// Reads flow ephemeral -> durable -> upstream. A full miss triggers a
// coalesced fetch-through (tiercache.Service): concurrent readers of
// one key share a single upstream call. When upstream is unavailable,
// any cached value, even an expired one, is served flagged as degraded.
//
// Freshness is maintained by a two-speed sync engine (scan): every
// trigger repulls the cheap bulk odds snapshot, and roughly once per
// day a budgeted batch scan walks all tracked players. The scan
// processes fixed-size groups with bounded concurrency, checks its
// wall-clock budget between groups, and persists a {nextIndex,
// timestamp} checkpoint to the durable tier when it pauses so the next
// trigger resumes where it stopped. Fresh payloads are merged leaf by
// leaf (record.Merge): a bookmaker line that did not move keeps its
// original update timestamp.
//
// The HTTP surface (gateway) serves the cached read endpoints plus an
// admin view: cache stats by category and a clear operation with dry
// run.
package stattrackr
