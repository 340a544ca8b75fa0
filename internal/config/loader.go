package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/fsutil"
)

const (
	defaultKillGrace     = 5 * time.Second
	defaultNotifyTimeout = 5 * time.Second
	defaultNotifyEvent   = "pipeline:event"
	defaultSideFileExt   = ".yml"
	defaultDelimiter     = ":"
)

// Load parses every .hcl file found under paths (files or directories) and
// merges them into one Pipeline. Engines and remotes may be spread over
// several files; a kind defined twice is an error. For singleton blocks the
// last file wins.
func Load(ctx context.Context, paths ...string) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.ExpandPaths(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no configuration files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	p := &Pipeline{
		Engines: make(map[string]*Engine),
		Remotes: make(map[string]*Remote),
	}
	var releaseMemory *bool
	parser := hclparse.NewParser()

	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(abs)
		if p.BaseDir == "" {
			p.BaseDir = dir
		}
		p.Files = append(p.Files, abs)

		hclFile, diags := parser.ParseHCLFile(abs)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if err := merge(p, &root, dir, &releaseMemory); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	applyDefaults(p, releaseMemory)
	logger.Debug("HCL loading complete.", "engines", len(p.Engines), "remotes", len(p.Remotes))
	return p, nil
}

func merge(p *Pipeline, root *fileRoot, dir string, releaseMemory **bool) error {
	if w := root.Workspace; w != nil {
		p.Workspace = Workspace{
			SearchDir:  fsutil.Resolve(dir, w.SearchDir),
			SpectraDir: fsutil.Resolve(dir, w.SpectraDir),
			LogDir:     fsutil.Resolve(dir, w.LogDir),
		}
	}

	if pr := root.Process; pr != nil {
		timeout, err := parseDuration("process.timeout", pr.Timeout)
		if err != nil {
			return err
		}
		grace, err := parseDuration("process.kill_grace", pr.KillGrace)
		if err != nil {
			return err
		}
		p.Process = Process{Timeout: timeout, KillGrace: grace}
	}

	for _, eb := range root.Engines {
		if _, dup := p.Engines[eb.Kind]; dup {
			return fmt.Errorf("engine %q defined more than once", eb.Kind)
		}
		e := &Engine{
			Kind:     eb.Kind,
			Steps:    make(map[string]*Template),
			Settings: eb.Settings,
		}
		for _, sb := range eb.Steps {
			if _, dup := e.Steps[sb.Name]; dup {
				return fmt.Errorf("engine %q: step %q defined more than once", eb.Kind, sb.Name)
			}
			timeout, err := parseDuration(fmt.Sprintf("engine %q step %q timeout", eb.Kind, sb.Name), sb.Timeout)
			if err != nil {
				return err
			}
			e.Steps[sb.Name] = &Template{
				Name:    eb.Kind + "-" + sb.Name,
				Program: resolveProgram(dir, sb.Program),
				Args:    sb.Args,
				Stdout:  sb.Stdout,
				Timeout: timeout,
			}
		}
		p.Engines[eb.Kind] = e
	}

	for _, rb := range root.Remotes {
		if _, dup := p.Remotes[rb.Kind]; dup {
			return fmt.Errorf("remote %q defined more than once", rb.Kind)
		}
		p.Remotes[rb.Kind] = &Remote{Kind: rb.Kind, Portal: fsutil.Resolve(dir, rb.Portal)}
	}

	if sb := root.Scorer; sb != nil {
		timeout, err := parseDuration("scorer.timeout", sb.Timeout)
		if err != nil {
			return err
		}
		p.Scorer = &Template{
			Name:    "scorer",
			Program: resolveProgram(dir, sb.Program),
			Args:    sb.Args,
			Timeout: timeout,
		}
	}

	if pb := root.Proteins; pb != nil {
		p.Proteins = Proteins{Extension: pb.Extension, Delimiter: pb.Delimiter}
		*releaseMemory = pb.ReleaseMemory
	}

	if lb := root.Lookup; lb != nil {
		p.Lookup = Lookup{File: fsutil.Resolve(dir, lb.File)}
	}

	if lb := root.Ledger; lb != nil {
		p.Ledger = &Ledger{Path: resolveDSN(dir, lb.Path)}
	}

	if nb := root.Notify; nb != nil {
		timeout, err := parseDuration("notify.timeout", nb.Timeout)
		if err != nil {
			return err
		}
		p.Notify = &Notify{URL: nb.URL, Namespace: nb.Namespace, Event: nb.Event, Timeout: timeout}
	}
	return nil
}

func applyDefaults(p *Pipeline, releaseMemory *bool) {
	if p.Workspace.SearchDir == "" {
		p.Workspace.SearchDir = filepath.Join(p.BaseDir, "search")
	}
	if p.Workspace.SpectraDir == "" {
		p.Workspace.SpectraDir = p.BaseDir
	}
	if p.Process.KillGrace == 0 {
		p.Process.KillGrace = defaultKillGrace
	}
	if p.Proteins.Extension == "" {
		p.Proteins.Extension = defaultSideFileExt
	}
	if p.Proteins.Delimiter == "" {
		p.Proteins.Delimiter = defaultDelimiter
	}
	p.Proteins.ReleaseMemory = releaseMemory == nil || *releaseMemory
	if n := p.Notify; n != nil {
		if n.Namespace == "" {
			n.Namespace = "/"
		}
		if n.Event == "" {
			n.Event = defaultNotifyEvent
		}
		if n.Timeout == 0 {
			n.Timeout = defaultNotifyTimeout
		}
	}
}

func parseDuration(what, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", what, s)
	}
	return d, nil
}

// resolveProgram resolves program paths relative to the config file. Bare
// names are left for a PATH lookup.
func resolveProgram(dir, program string) string {
	if !strings.ContainsRune(program, filepath.Separator) && !strings.ContainsRune(program, '/') {
		return program
	}
	return fsutil.Resolve(dir, program)
}

// resolveDSN leaves SQLite special names such as ":memory:" untouched.
func resolveDSN(dir, path string) string {
	if strings.HasPrefix(path, ":") || strings.HasPrefix(path, "file:") {
		return path
	}
	return fsutil.Resolve(dir, path)
}
