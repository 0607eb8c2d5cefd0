// Package runstore keeps a SQLite history of optimization runs and their
// per-asset outcomes.
//
// Store implements optimizer.Recorder, so attaching it to an orchestrator
// persists each run as it progresses. A run interrupted by a crash stays in
// the running state until ReclaimInterrupted is called under the run lock.
package runstore
