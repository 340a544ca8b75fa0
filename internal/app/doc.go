// Package app wires the configuration, the reference tables, the run ledger
// and the progress notifier into the search and scoring phases, decoupled
// from any specific entrypoint like a CLI.
package app
