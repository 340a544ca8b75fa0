package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/dag"
	"github.com/vk/psmgrid/internal/lookup"
	"github.com/vk/psmgrid/internal/manifest"
	"github.com/vk/psmgrid/internal/notify"
	"github.com/vk/psmgrid/internal/procgraph"
	"github.com/vk/psmgrid/internal/remote"
)

// SessionFactory opens a fresh remote session. It is called once per
// submission so that no two variants share cookies or form state.
type SessionFactory func() (remote.Submitter, error)

// Env is everything a plan needs from the outside.
type Env struct {
	Config   *config.Pipeline
	Resolver lookup.Resolver
	// Procs is the process group of the unit the plan runs in.
	Procs    procgraph.Starter
	Sessions SessionFactory
	Notifier notify.Notifier
	RunID    string
}

// Plan is the step graph of one engine for one input.
type Plan struct {
	Kind  Kind
	Graph *dag.Graph
	// Pair is the manifest entry the plan produces on success.
	Pair manifest.Pair
	Jobs []SearchJob
}

// Outputs returns the files that must exist once the plan and every process
// it spawned have finished.
func (p *Plan) Outputs() []string {
	return []string{p.Pair.Target, p.Pair.Decoy}
}

// Build resolves every name the engine needs and assembles its graph.
// Nothing is spawned until the graph runs.
func Build(ctx context.Context, kind Kind, in Input, env *Env) (*Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if env.Notifier == nil {
		env.Notifier = notify.Nop{}
	}

	b := &builder{
		kind:  kind,
		in:    in,
		env:   env,
		graph: dag.New(),
		dir:   env.Config.Workspace.SearchDir,
	}

	var err error
	switch kind {
	case OMSSA:
		err = b.omssa()
	case Tide:
		err = b.tide()
	case Tandem:
		err = b.tandem()
	case Mascot:
		err = b.mascot()
	default:
		err = fmt.Errorf("unknown engine %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("planning %s: %w", kind, err)
	}

	target, decoy := in.Job(Target), in.Job(Decoy)
	ctxlog.FromContext(ctx).Debug("Engine plan built.", "engine", kind, "steps", len(b.graph.Steps()))
	return &Plan{
		Kind:  kind,
		Graph: b.graph,
		Pair: manifest.Pair{
			Engine: string(kind),
			Target: target.OutputPath(b.dir, kind),
			Decoy:  decoy.OutputPath(b.dir, kind),
		},
		Jobs: []SearchJob{target, decoy},
	}, nil
}

type builder struct {
	kind  Kind
	in    Input
	env   *Env
	graph *dag.Graph
	dir   string
	conf  *config.Engine
}

// engineConfig returns the engine block, which every local engine requires.
func (b *builder) engineConfig() (*config.Engine, error) {
	if b.conf != nil {
		return b.conf, nil
	}
	e, ok := b.env.Config.Engine(string(b.kind))
	if !ok {
		return nil, fmt.Errorf("engine %q is not configured", b.kind)
	}
	b.conf = e
	return e, nil
}

func (b *builder) template(name string) (*config.Template, error) {
	e, err := b.engineConfig()
	if err != nil {
		return nil, err
	}
	t, ok := e.Step(name)
	if !ok {
		return nil, fmt.Errorf("engine %q has no %q step", b.kind, name)
	}
	return t, nil
}

func (b *builder) setting(key, def string) string {
	if e, ok := b.env.Config.Engine(string(b.kind)); ok {
		return e.Setting(key, def)
	}
	return def
}

// spectra is the spectra file an engine reads: <spectra_dir>/<name><ext>.
func (b *builder) spectra(defaultExt string) string {
	name := Input{File: b.in.File}.Stem()
	return filepath.Join(b.env.Config.Workspace.SpectraDir, name+b.setting("spectra_ext", defaultExt))
}

func (b *builder) databaseFamily() string {
	return b.setting("database_family", "fasta")
}

// vars are the template variables common to every step of a job.
func (b *builder) vars(j SearchJob) config.Vars {
	return config.Vars{
		"name":       Input{File: j.InputFile, Run: j.Run}.Stem(),
		"variant":    string(j.Variant),
		"search_dir": b.dir,
	}
}

// step adds a step that reports its progress to the notifier.
func (b *builder) step(id string, fn dag.StepFunc, deps ...string) error {
	kind := string(b.kind)
	publish := func(ctx context.Context, k notify.Kind, err error) {
		e := notify.Event{Kind: k, RunID: b.env.RunID, Engine: kind, Step: id}
		if err != nil {
			e.Error = err.Error()
		}
		b.env.Notifier.Publish(ctx, e)
	}

	wrapped := func(ctx context.Context) error {
		logger := ctxlog.FromContext(ctx)
		logger.Debug("Step started.")
		publish(ctx, notify.StepStarted, nil)
		if err := fn(ctx); err != nil {
			publish(ctx, notify.StepFailed, err)
			return err
		}
		logger.Debug("Step finished.")
		publish(ctx, notify.StepFinished, nil)
		return nil
	}
	if err := b.graph.AddStep(id, wrapped); err != nil {
		return err
	}
	return b.graph.DependsOn(id, deps...)
}

// start renders tmpl and spawns it through the unit's process group.
func (b *builder) start(ctx context.Context, id string, tmpl *config.Template, vars config.Vars, file string) (*procgraph.Handle, error) {
	rendered, err := tmpl.Render(vars)
	if err != nil {
		return nil, err
	}
	name := string(b.kind) + "-" + id

	stderr, closeStderr, err := b.stderrLog(name)
	if err != nil {
		return nil, err
	}
	h, err := b.env.Procs.Spawn(ctx, procgraph.Command{
		Name:    name,
		Program: rendered.Program,
		Args:    rendered.Args,
		Dir:     b.dir,
		Stdout:  rendered.Stdout,
		Stderr:  stderr,
		File:    file,
		Timeout: tmpl.Timeout,
	})
	if err != nil {
		closeStderr()
		return nil, err
	}
	go func() {
		<-h.Done()
		closeStderr()
	}()
	ctxlog.FromContext(ctx).Info("Process spawned.", "process", name, "pid", h.PID())
	return h, nil
}

// run is start followed by Wait.
func (b *builder) run(ctx context.Context, id string, tmpl *config.Template, vars config.Vars, file string) error {
	h, err := b.start(ctx, id, tmpl, vars, file)
	if err != nil {
		return err
	}
	_, err = h.Wait(ctx)
	return err
}

// stderrLog opens the per-process stderr log when a log directory is set.
func (b *builder) stderrLog(name string) (io.Writer, func(), error) {
	logDir := b.env.Config.Workspace.LogDir
	if logDir == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(logDir, fmt.Sprintf("%s-%s.stderr.log", b.in.Stem(), name))
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
