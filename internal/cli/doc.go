// Package cli maps the psmgrid command line onto the application. It reads
// flags and their PSMGRID_* environment variables (optionally seeded from a
// dotenv file), validates them and turns usage problems into ExitError
// values carrying exit code 2.
package cli
