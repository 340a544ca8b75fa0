// Package pipeline drives the search engines selected for one spectra input.
//
// Every engine runs as an independent unit in its own goroutine. A unit owns
// a step graph and a process group: it is finished only once its graph has
// run and every process spawned inside it has been reaped, including those a
// step launched and did not wait for. The driver appends a unit's result pair
// to the run manifest once both have succeeded and the pair's files exist.
package pipeline
