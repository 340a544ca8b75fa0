// Package config loads the pipeline configuration from HCL files.
//
// The `config.Pipeline` is the explicit configuration object handed to every
// constructor; nothing downstream reads the working directory or the
// environment. Command lines for external tools are kept as HCL expressions
// and rendered per step with the step's variables (see Template).
package config
