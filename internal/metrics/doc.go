// Package metrics collects per-route session counters through a buffered
// event channel and serves JSON snapshots on the admin listener.
package metrics
