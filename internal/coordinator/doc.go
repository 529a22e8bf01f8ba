// Package coordinator fans segment start requests out across the hosts of a
// database fleet, runs them through a bounded worker pool and folds the
// per-host answers back into one outcome per segment.
//
// # Overview
//
// A caller hands Dispatch a batch of segments and a StartMethod. The batch
// is grouped by host, one remote command is built per host per wave, and
// each command carries a payload describing every segment that host must
// start. The remote agent answers with one STATUS line per segment.
//
//	┌──────────────┐   Dispatch    ┌──────────────────────┐
//	│    segctl    │ ────────────▶ │      Dispatcher      │
//	└──────────────┘               ├──────────────────────┤
//	                               │ validate request     │
//	                               │ PlanWaves            │
//	                               │ build every payload  │
//	                               │ per wave:            │
//	                               │   submit  → pool     │
//	                               │   join    ← pool     │
//	                               │   collect STATUS     │
//	                               │ verify accounting    │
//	                               └──────────┬───────────┘
//	                                          │ one command per host
//	                  ┌───────────────────────┼───────────────────────┐
//	                  ▼                       ▼                       ▼
//	            ┌──────────┐            ┌──────────┐            ┌──────────┐
//	            │ segagent │            │ segagent │            │ segagent │
//	            │  sdw1    │            │  sdw2    │            │  sdw3    │
//	            └──────────┘            └──────────┘            └──────────┘
//
// # Waves
//
// When the pool has at least as many workers as there are hosts, a single
// wave sends every host exactly one command. When it has fewer, and the
// segments start as primary-or-mirror, the batch is split: every mirror is
// attempted in the first wave and every primary in the second. Mirrorless
// starts always use one wave. A wave with no hosts is skipped.
//
// # Failure handling
//
// Exit status 0 or 1 from the agent means its STATUS lines are trusted. Any
// other exit status, or a transport error, fails every segment sent to that
// host with ReasonUnknownError. A segment the agent did not report on is
// failed the same way. None of these abort the dispatch.
//
// Dispatch returns an error only for a request it refuses to plan
// (*TopologyError, before anything is sent) or an accounting defect
// (*InvariantError).
//
// # Preflight
//
// HostMonitor probes each host a few times before a dispatch so that an
// unreachable host can be reported once instead of per segment.
package coordinator
