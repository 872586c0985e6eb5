// Package crawl orchestrates a crawl over a fleet of Tor backends.
//
// The Orchestrator validates the configuration, rounds the backend count
// down to a multiple of the slots per group and, for every crawl:
//
//  1. launches the backends through a BackendSupervisor
//  2. starts one WorkerGroup per SlotsPerGroup backends, all draining the
//     same task queue
//  3. waits for the queue to drain (TaskQueue.Join)
//  4. stops the groups and kills the backends
//
// Teardown always runs once Launch was called, so no backend outlives a
// crawl. An empty queue is a no-op and launches nothing.
//
// Design decision: Worker groups are goroutines, not processes. Each group
// owns one reactor and a fixed, disjoint range of backend ports, which is
// all the isolation the slot binding needs.
package crawl
