//go:build unix

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/dag"
	"github.com/vk/psmgrid/internal/lookup"
	"github.com/vk/psmgrid/internal/notify"
	"github.com/vk/psmgrid/internal/procgraph"
	"github.com/vk/psmgrid/internal/remote"
	"github.com/vk/psmgrid/internal/testutil"
)

const enginesHCL = `
	workspace {
	  search_dir  = "search"
	  spectra_dir = "spectra"
	  log_dir     = "logs"
	}

	engine "omssa" {
	  step "search" {
	    program = "bin/omssacl"
	    args    = ["-fm", spectra, "-e", enzyme, "-d", database, "-op", output]
	  }
	}

	engine "tide" {
	  step "index" {
	    program = "bin/tide-index"
	    args    = ["--fasta", database, "--enzyme", enzyme]
	  }
	  step "import" {
	    program = "bin/tide-import-spectra"
	    args    = ["--in", spectra, "-out", output]
	  }
	  step "search" {
	    program = "bin/tide-search"
	    args    = ["--proteins", proteins, "--spectra", spectra]
	    stdout  = output
	  }
	  step "convert" {
	    program = "bin/tide-convert"
	    args    = [input, output, database]
	  }
	}

	engine "tandem" {
	  step "search" {
	    program = "bin/tandem"
	    args    = [input, output]
	  }
	  step "convert" {
	    program = "bin/Tandem2XML"
	    args    = [input, output]
	  }
	  settings = {
	    taxonomy = "/db/taxonomy.xml"
	  }
	}
`

var testLookup = &lookup.Table{
	Enzymes: map[string]map[string]string{
		"omssa":  {"trypsin": "0"},
		"tide":   {"trypsin": "trypsin"},
		"tandem": {"trypsin": "[RK]|{P}"},
	},
	Databases: map[string]map[string]string{
		"fasta":  {"human": "/db/human.fasta", "human-r": "/db/human-r.fasta"},
		"mascot": {"human": "SwissProt_human", "human-r": "SwissProt_human_rev"},
	},
}

type fixture struct {
	dir    string
	conf   *config.Pipeline
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Publish(_ context.Context, e notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(step string) []notify.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []notify.Kind
	for _, e := range l.events {
		if e.Step == step {
			out = append(out, e.Kind)
		}
	}
	return out
}

// newFixture writes the engine configuration and fake binaries. scripts
// overrides the default body of a fake binary.
func newFixture(t *testing.T, scripts map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()

	bodies := map[string]string{
		"omssacl": `
			prev=""
			for a in "$@"; do
			  [ "$prev" = "-op" ] && out=$a
			  prev=$a
			done
			echo "$@" > "$out"
		`,
		"tide-index":          `sleep 0.1`,
		"tide-import-spectra": `sleep 0.1; cp "$2" "$4"`,
		"tide-search":         `echo "$2"; cat "$4"`,
		"tide-convert":        `cp "$1" "$2"; echo "$3" >> "$2"`,
		"tandem":              `grep -q "protein, taxon" "$1" && cp "$1" "$2"`,
		"Tandem2XML":          `cp "$1" "$2"`,
	}
	for name, body := range scripts {
		bodies[name] = body
	}

	testutil.WriteFiles(t, dir, map[string]string{"engines.hcl": enginesHCL})
	for _, sub := range []string{"bin", "search", "spectra"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spectra", "sample.mgf"), []byte("BEGIN IONS\nEND IONS\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spectra", "sample.ms2"), []byte("S\t1\t1\t500.0\n"), 0o644))
	for name, body := range bodies {
		testutil.WriteScript(t, filepath.Join(dir, "bin"), name, body)
	}

	conf, err := config.Load(context.Background(), filepath.Join(dir, "engines.hcl"))
	require.NoError(t, err)
	return &fixture{dir: dir, conf: conf, events: &eventLog{}}
}

func (f *fixture) env(procs procgraph.Starter) *Env {
	return &Env{
		Config:   f.conf,
		Resolver: testLookup,
		Procs:    procs,
		Notifier: f.events,
		RunID:    "run-1",
	}
}

var sampleInput = Input{File: "sample", Database: "human", Enzyme: "trypsin"}

func records(g *dag.Graph) map[string]testutil.ExecutionRecord {
	out := make(map[string]testutil.ExecutionRecord)
	for id, r := range g.Records() {
		out[id] = testutil.ExecutionRecord{Start: r.Start, End: r.End}
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestOMSSAPlan(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, nil)
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, OMSSA, sampleInput, f.env(group))
	require.NoError(t, err)

	deps, err := plan.Graph.Dependencies("verify-decoy")
	require.NoError(t, err)
	assert.Equal(t, []string{"search-decoy"}, deps)
	deps, err = plan.Graph.Dependencies("search-target")
	require.NoError(t, err)
	assert.Empty(t, deps)

	require.NoError(t, plan.Graph.Run(ctx))
	require.NoError(t, group.Wait(ctx))

	search := filepath.Join(f.dir, "search")
	assert.Equal(t, filepath.Join(search, "sample-target_omssa.pep.xml"), plan.Pair.Target)
	assert.Equal(t, filepath.Join(search, "sample-decoy_omssa.pep.xml"), plan.Pair.Decoy)
	assert.Contains(t, readFile(t, plan.Pair.Target), "-e 0 -d /db/human.fasta")
	assert.Contains(t, readFile(t, plan.Pair.Decoy), "-d /db/human-r.fasta")
	assert.Contains(t, readFile(t, plan.Pair.Decoy), filepath.Join(f.dir, "spectra", "sample.mgf"))

	recs := records(plan.Graph)
	testutil.AssertStartsAfter(t, recs, "verify-target", "search-target")
	testutil.AssertStartsAfter(t, recs, "verify-decoy", "search-decoy")

	assert.Equal(t, []notify.Kind{notify.StepStarted, notify.StepFinished}, f.events.kinds("verify-target"))
	assert.FileExists(t, filepath.Join(f.dir, "logs", "sample-omssa-search-target.stderr.log"))
}

func TestOMSSAFailedVariant(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, map[string]string{
		"omssacl": `
			case "$*" in
			  *human-r*) echo "cannot open database" >&2; exit 2 ;;
			esac
			for a in "$@"; do out=$a; done
			echo ok > "$out"
		`,
	})
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, OMSSA, sampleInput, f.env(group))
	require.NoError(t, err)

	err = plan.Graph.Run(ctx)
	var exitErr *procgraph.ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, "omssa-search-decoy", exitErr.Name)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "cannot open database")
	require.NoError(t, group.Wait(ctx))

	recs := plan.Graph.Records()
	assert.Equal(t, dag.Done, recs["verify-target"].State)
	assert.Equal(t, dag.Failed, recs["verify-decoy"].State)
	assert.Equal(t, []notify.Kind{notify.StepStarted, notify.StepFailed}, f.events.kinds("verify-decoy"))
}

func TestTidePlanOrdering(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, nil)
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, Tide, Input{File: "sample.ms2", Database: "human", Enzyme: "trypsin", Run: 2}, f.env(group))
	require.NoError(t, err)
	require.NoError(t, plan.Graph.Run(ctx))
	require.NoError(t, group.Wait(ctx))

	recs := records(plan.Graph)
	testutil.AssertStartsAfter(t, recs, "search-target", "index-target", "import-spectra")
	testutil.AssertStartsAfter(t, recs, "search-decoy", "index-decoy", "import-spectra")
	testutil.AssertStartsAfter(t, recs, "convert-target", "search-target")
	testutil.AssertStartsAfter(t, recs, "convert-decoy", "search-decoy")

	// The three first-stage steps overlap.
	first := []string{"index-target", "index-decoy", "import-spectra"}
	for _, a := range first {
		for _, b := range first {
			if a != b {
				assert.True(t, recs[a].Start.Before(recs[b].End), "%s and %s did not overlap", a, b)
			}
		}
	}

	search := filepath.Join(f.dir, "search")
	assert.Equal(t, filepath.Join(search, "sample_2-target_tide.pep.xml"), plan.Pair.Target)
	decoy := readFile(t, plan.Pair.Decoy)
	assert.Equal(t, "/db/human-r.fasta.protix\nS\t1\t1\t500.0\n/db/human-r.fasta\n", decoy)
	assert.FileExists(t, filepath.Join(search, "sample_2-tide.spectrumrecords"))
	assert.FileExists(t, filepath.Join(search, "sample_2-target_tide.results"))
}

func TestTideIndexFailureSkipsOnlyItsBranch(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, map[string]string{
		"tide-index": `case "$2" in *human-r*) exit 1 ;; esac`,
	})
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, Tide, sampleInput, f.env(group))
	require.NoError(t, err)
	require.Error(t, plan.Graph.Run(ctx))
	require.NoError(t, group.Wait(ctx))

	recs := plan.Graph.Records()
	assert.Equal(t, dag.Failed, recs["index-decoy"].State)
	assert.Equal(t, dag.Skipped, recs["search-decoy"].State)
	assert.Equal(t, dag.Skipped, recs["convert-decoy"].State)
	assert.Equal(t, dag.Done, recs["convert-target"].State)
	assert.FileExists(t, plan.Pair.Target)
	assert.NoFileExists(t, plan.Pair.Decoy)
}

func TestTandemConverterOutlivesGraph(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	release := filepath.Join(t.TempDir(), "release")
	f := newFixture(t, map[string]string{
		"Tandem2XML": `
			while [ ! -f "` + release + `" ]; do sleep 0.02; done
			cp "$1" "$2"
		`,
	})
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, Tandem, sampleInput, f.env(group))
	require.NoError(t, err)
	require.NoError(t, plan.Graph.Run(ctx))

	// Both converters are still running, owned by the group.
	assert.NoFileExists(t, plan.Pair.Target)
	assert.NoFileExists(t, plan.Pair.Decoy)
	require.Len(t, group.Handles(), 4)

	require.NoError(t, os.WriteFile(release, nil, 0o644))
	require.NoError(t, group.Wait(ctx))

	decoy := readFile(t, plan.Pair.Decoy)
	assert.Contains(t, decoy, `<note type="input" label="protein, taxon">human-r</note>`)
	assert.Contains(t, decoy, `<note type="input" label="protein, cleavage site">[RK]|{P}</note>`)
	assert.Contains(t, decoy, `<note type="input" label="list path, taxonomy information">/db/taxonomy.xml</note>`)
	assert.Contains(t, decoy, `label="scoring, maximum missed cleavage sites">50</note>`)
	assert.True(t, strings.HasPrefix(decoy, "<?xml"))
	assert.Contains(t, readFile(t, plan.Pair.Target), `label="output, path">`+filepath.Join(f.dir, "search", "sample-target_tandem.xml")+`</note>`)

	recs := records(plan.Graph)
	testutil.AssertStartsAfter(t, recs, "search-target", "input-target")
	testutil.AssertStartsAfter(t, recs, "convert-decoy", "search-decoy")
}

func TestTandemDetachedConverterFailureSurfacesInGroup(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, map[string]string{"Tandem2XML": `echo "bad raw file" >&2; exit 5`})
	group := procgraph.NewGroup(ctx, procgraph.New())

	plan, err := Build(ctx, Tandem, sampleInput, f.env(group))
	require.NoError(t, err)
	require.NoError(t, plan.Graph.Run(ctx))

	err = group.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tandem-convert exited with status 5")
	assert.Contains(t, err.Error(), "bad raw file")
}

type fakeSubmitter struct {
	fail bool
	jobs *[]remote.Job
	mu   *sync.Mutex
}

func (s *fakeSubmitter) Submit(ctx context.Context, job remote.Job) ([]byte, error) {
	s.mu.Lock()
	*s.jobs = append(*s.jobs, job)
	s.mu.Unlock()
	if s.fail && strings.HasSuffix(job.Database, "_rev") {
		return nil, &remote.RemoteJobError{Stage: "result-link", URL: "http://portal/", Err: remote.ErrNoResultLink}
	}
	return []byte("<msms_pipeline_analysis db=\"" + job.Database + "\"/>"), nil
}

func mascotEnv(f *fixture, fail bool) (*Env, *[]remote.Job, *int) {
	var (
		mu       sync.Mutex
		jobs     []remote.Job
		sessions int
	)
	env := f.env(procgraph.New())
	env.Sessions = func() (remote.Submitter, error) {
		mu.Lock()
		defer mu.Unlock()
		sessions++
		return &fakeSubmitter{fail: fail, jobs: &jobs, mu: &mu}, nil
	}
	return env, &jobs, &sessions
}

func TestMascotPlanUsesOneSessionPerVariant(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, nil)
	env, jobs, sessions := mascotEnv(f, false)

	plan, err := Build(ctx, Mascot, sampleInput, env)
	require.NoError(t, err)
	require.NoError(t, plan.Graph.Run(ctx))

	assert.Equal(t, 2, *sessions)
	require.Len(t, *jobs, 2)
	for _, j := range *jobs {
		assert.Equal(t, filepath.Join(f.dir, "spectra", "sample.mgf"), j.Upload)
	}
	assert.Equal(t, `<msms_pipeline_analysis db="SwissProt_human"/>`, readFile(t, plan.Pair.Target))
	assert.Equal(t, `<msms_pipeline_analysis db="SwissProt_human_rev"/>`, readFile(t, plan.Pair.Decoy))
}

func TestMascotFailedSubmissionLeavesNoFile(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, nil)
	env, _, _ := mascotEnv(f, true)

	plan, err := Build(ctx, Mascot, sampleInput, env)
	require.NoError(t, err)

	err = plan.Graph.Run(ctx)
	var jobErr *remote.RemoteJobError
	require.True(t, errors.As(err, &jobErr), "got %v", err)
	assert.FileExists(t, plan.Pair.Target)
	assert.NoFileExists(t, plan.Pair.Decoy)

	entries, err := os.ReadDir(filepath.Join(f.dir, "search"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file may survive a failed submission")
}

type countingStarter struct{ spawned int }

func (s *countingStarter) Spawn(context.Context, procgraph.Command) (*procgraph.Handle, error) {
	s.spawned++
	return nil, errors.New("unexpected spawn")
}

func TestBuildErrors(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	f := newFixture(t, nil)

	t.Run("unknown enzyme", func(t *testing.T) {
		starter := &countingStarter{}
		_, err := Build(ctx, Tide, Input{File: "sample", Database: "human", Enzyme: "pepsin"}, f.env(starter))
		var lookupErr *lookup.LookupError
		require.True(t, errors.As(err, &lookupErr), "got %v", err)
		assert.Equal(t, lookup.KindEnzyme, lookupErr.Kind)
		assert.Equal(t, "tide", lookupErr.Family)
		assert.Zero(t, starter.spawned)
	})

	t.Run("unknown database", func(t *testing.T) {
		_, err := Build(ctx, OMSSA, Input{File: "sample", Database: "mouse", Enzyme: "trypsin"}, f.env(&countingStarter{}))
		var lookupErr *lookup.LookupError
		require.True(t, errors.As(err, &lookupErr), "got %v", err)
		assert.Equal(t, "mouse", lookupErr.Name)
	})

	t.Run("engine not configured", func(t *testing.T) {
		f.conf.Engines = map[string]*config.Engine{}
		_, err := Build(ctx, OMSSA, sampleInput, f.env(&countingStarter{}))
		assert.ErrorContains(t, err, `engine "omssa" is not configured`)
	})

	t.Run("missing step", func(t *testing.T) {
		f.conf.Engines = map[string]*config.Engine{"tandem": {Kind: "tandem", Steps: map[string]*config.Template{}}}
		_, err := Build(ctx, Tandem, sampleInput, f.env(&countingStarter{}))
		assert.ErrorContains(t, err, `engine "tandem" has no "search" step`)
	})

	t.Run("mascot without portal", func(t *testing.T) {
		_, err := Build(ctx, Mascot, sampleInput, f.env(&countingStarter{}))
		assert.ErrorContains(t, err, "no remote portal configured")
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := Build(ctx, OMSSA, Input{File: "sample"}, f.env(&countingStarter{}))
		assert.ErrorContains(t, err, "database is required")
	})
}
