package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/psmgrid/internal/testutil"
)

func loadEngine(t *testing.T, src, kind string) *Engine {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"main.hcl": src})
	p, err := Load(context.Background(), filepath.Join(dir, "main.hcl"))
	require.NoError(t, err)
	e, ok := p.Engine(kind)
	require.True(t, ok)
	return e
}

func TestTemplateRender(t *testing.T) {
	e := loadEngine(t, `
		engine "tide" {
		  step "search" {
		    program = "crux"
		    args    = ["tide-search", "--mass-tol", format("%s", "3"), upper(variant), spectra, index]
		    stdout  = output
		  }
		  step "import" {
		    program = "crux"
		  }
		  step "index" {
		    program = "crux"
		    args    = []
		  }
		}
	`, "tide")

	search, _ := e.Step("search")
	cmd, err := search.Render(Vars{
		"spectra": "/s/a.ms2",
		"index":   "/w/a-target.idx",
		"variant": "target",
		"output":  "/w/a-target.results",
	})
	require.NoError(t, err)
	assert.Equal(t, "crux", cmd.Program)
	assert.Equal(t, []string{"tide-search", "--mass-tol", "3", "TARGET", "/s/a.ms2", "/w/a-target.idx"}, cmd.Args)
	assert.Equal(t, "/w/a-target.results", cmd.Stdout)

	imp, _ := e.Step("import")
	cmd, err = imp.Render(nil)
	require.NoError(t, err)
	assert.Nil(t, cmd.Args)
	assert.Empty(t, cmd.Stdout)

	index, _ := e.Step("index")
	cmd, err = index.Render(nil)
	require.NoError(t, err)
	assert.Empty(t, cmd.Args)
}

func TestTemplateRenderErrors(t *testing.T) {
	e := loadEngine(t, `
		engine "omssa" {
		  step "unknown" {
		    program = "omssacl"
		    args    = ["-d", database]
		  }
		  step "not_a_list" {
		    program = "omssacl"
		    args    = { a = "b" }
		  }
		}
	`, "omssa")

	unknown, _ := e.Step("unknown")
	_, err := unknown.Render(Vars{"spectra": "x"})
	assert.ErrorContains(t, err, "rendering args of omssa-unknown")

	notList, _ := e.Step("not_a_list")
	_, err = notList.Render(nil)
	assert.ErrorContains(t, err, "expected a list of strings")
}
