// Package manager owns the single resident model and the execution context
// derived from it. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig, collaborator interfaces and package defaults.
//   - types.go: ResidentModel, the execution context variants, TrackingSet.
//   - errors.go: error types and helpers (IsPrecondition, IsModelNotFound, ...).
//   - load.go: LoadModel, the reuse-or-reload decision.
//   - session.go: embedding, completion and chat session loading.
//   - chat_history.go: fingerprint-addressed history restore and save.
//   - dispose.go: disposal by release, reload and shutdown.
//   - idle.go: the idle eviction timer.
//   - status_report.go: Status/Snapshot reporting helpers.
//
// Mutating methods assume a single caller at a time. Callers run them inside
// request queue tasks; the idle timer enqueues its disposal on the same queue.
package manager
