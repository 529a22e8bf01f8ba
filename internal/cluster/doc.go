// Package cluster describes the segment fleet that segctl operates on:
// segment identity and placement, replica pairs, and the YAML topology
// file that catalogs them.
//
// # Overview
//
// A fleet is a set of hosts, each running one or more segment instances.
// Every segment has a unique dbid and a content id. Two segments sharing a
// content id form a replica pair: one primary and one mirror. Content id -1
// is reserved for the coordinator.
//
//	┌────────────── content 0 ──────────────┐
//	│ dbid 2  primary  sdw1:6000  /data/p0  │
//	│ dbid 4  mirror   sdw2:7000  /data/m0  │
//	└───────────────────────────────────────┘
//
// # Core Components
//
// Segment: one database instance
//   - Role is the role it currently plays (primary or mirror)
//   - PeerPort is what its partner dials for replication
//
// Topology: the loaded catalog
//   - Peers builds the dbid → partner map consumed by the dispatcher
//   - Select narrows the catalog by dbid or host
//   - GroupByHost keeps first-seen host order for stable dispatch
//
// # Communication Helpers
//
// PostJSON and GetJSON are the HTTP/JSON helpers used to talk to segagent
// processes. TransitionRequest and TransitionResponse are the bodies of the
// agent's POST /transition endpoint.
//
// # Concurrency Model
//
// A Topology is immutable once loaded and may be shared between goroutines.
// Segment is a plain value type.
package cluster
