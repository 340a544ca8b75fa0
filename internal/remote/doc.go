// Package remote drives an interactive web search portal as a single
// blocking call: submit the search form, follow the dynamically generated
// result link, and fetch the exported results.
//
// The form schema of a deployment lives in a YAML portal file. Each Session
// owns its own HTTP client and cookie jar so that concurrent target and decoy
// submissions never share server-side state.
package remote
