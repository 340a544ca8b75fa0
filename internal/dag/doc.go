// Package dag runs the steps of one engine unit as a directed acyclic graph.
//
// Steps are plain functions. A step starts once every step it depends on has
// finished successfully; steps with no path between them run concurrently. A
// failing step marks all of its transitive dependents as skipped but never
// interrupts steps on unrelated branches that are already running.
package dag
