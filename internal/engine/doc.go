// Package engine implements the protocol engine: a command queue and
// dispatcher, the run controller, and the public API that clients use to
// enqueue commands and control a run.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every state change is an action dispatched from one goroutine, the Run
// loop. This ensures:
// - Actions are totally ordered and never dispatched re-entrantly
// - The action log replays to identical state
// - Readers get immutable state without locks
//
// Event Processing Flow:
// 1. Client calls (Enqueue, Play, Stop, ...) become request events
// 2. Engine.Run() dequeues events one at a time
// 3. The handler dispatches actions through the pipeline
// 4. advance() starts the next QUEUED command when the run allows it
// 5. The command executes on its own goroutine and posts a completion event
//
// At most one command executes at a time. Pause is honoured before the next
// command starts; Stop cancels the executing command's context and then
// dispatches Stop once the command has reported back.
//
// CRITICAL PATTERNS:
//
// Logical order:
// Actions carry wall-clock timestamps from the Clock, but their order is
// the pipeline sequence number. Never order by timestamp.
//
// State is derived:
// Nothing outside the reducers changes run state. The engine only decides
// which action comes next.
package engine
