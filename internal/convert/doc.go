// Package convert turns raw search engine output into the formats the rest
// of the pipeline consumes: engine-specific results into pepXML through an
// external converter, and a target/decoy pepXML pair into a percolator tab
// file.
package convert
