package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
)

// Pipeline is the unified representation of every loaded configuration file.
type Pipeline struct {
	// BaseDir is the directory of the first loaded file. Relative paths in
	// the configuration have already been resolved against their own file.
	BaseDir string
	Files   []string

	Workspace Workspace
	Process   Process
	Engines   map[string]*Engine
	Remotes   map[string]*Remote
	Scorer    *Template
	Proteins  Proteins
	Lookup    Lookup
	Ledger    *Ledger
	Notify    *Notify
}

// Engine returns the configuration for the engine kind, if any.
func (p *Pipeline) Engine(kind string) (*Engine, bool) {
	e, ok := p.Engines[kind]
	return e, ok
}

// Workspace holds the directories the pipeline reads from and writes to.
type Workspace struct {
	SearchDir  string
	SpectraDir string
	LogDir     string
}

// Process holds the defaults for spawned external tools.
type Process struct {
	Timeout   time.Duration
	KillGrace time.Duration
}

// Engine is the configuration of one engine family.
type Engine struct {
	Kind     string
	Steps    map[string]*Template
	Settings map[string]string
}

// Step returns the named command template.
func (e *Engine) Step(name string) (*Template, bool) {
	t, ok := e.Steps[name]
	return t, ok
}

// Setting returns a free-form engine setting or def when unset.
func (e *Engine) Setting(key, def string) string {
	if v, ok := e.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Template is an external command whose arguments are HCL expressions.
type Template struct {
	Name    string
	Program string
	Args    hcl.Expression
	Stdout  hcl.Expression
	Timeout time.Duration
}

// Remote configures a remote search service.
type Remote struct {
	Kind   string
	Portal string
}

// Proteins configures the protein description side-file.
type Proteins struct {
	Extension     string
	Delimiter     string
	ReleaseMemory bool
}

// Lookup points to the YAML reference tables.
type Lookup struct {
	File string
}

// Ledger configures the SQLite run ledger.
type Ledger struct {
	Path string
}

// Notify configures the socket.io progress notifier.
type Notify struct {
	URL       string
	Namespace string
	Event     string
	Timeout   time.Duration
}
