// Package engine turns one spectra input into a per-engine step graph.
//
// Every engine family runs a target and a decoy search. The family decides
// the shape of the graph around them:
//
//   - omssa: two independent searches, each followed by its own verify step.
//   - tide: index-target, index-decoy and import-spectra run concurrently;
//     each search waits for its index and the import, and a conversion
//     follows each search.
//   - tandem: an input file is written per variant, searched, and the raw
//     output converted to pepXML. The converter is left running and is
//     awaited by whoever owns the process group.
//   - mascot: two submissions to the remote portal, each in its own session.
//
// All names are resolved through a lookup.Resolver while the plan is built,
// so a LookupError surfaces before any process is spawned.
package engine
