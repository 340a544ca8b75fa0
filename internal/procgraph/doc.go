// Package procgraph spawns external tools as OS processes and waits for them.
//
// Spawn never blocks on the child. Every Handle is awaited exactly once by
// whoever owns it; a Group remembers every handle spawned through it so the
// owner of a whole unit of work can await processes whose launching step has
// already returned. Waits are bounded: a per-command or spawner-wide timeout,
// or cancellation of the spawn context, terminates the child's process group.
package procgraph
