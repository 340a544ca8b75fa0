package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/psmgrid/internal/testutil"
)

func TestLoadPortal(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"mascot.yml": `
			url: https://mascot.example.org/cgi
			submit_path: nph-mascot.exe?1
			export_path: export_dat_2.pl
			file_field: FILE
			database_field: DB
			timeout: 45m
			fields:
			  USERNAME: lab
			  TOL: "1.2"
			choices:
			  MASS:
			    options: [Monoisotopic, Average]
			    index: 0
			checkboxes:
			  ERRORTOLERANT: true
			export:
			  REPTYPE: export
			export_format_field: export_format
			export_format:
			  options: [XML, CSV, pepXML]
			  index: 2
		`,
		"bad-index.yml": `
			url: https://mascot.example.org/cgi/
			submit_path: a
			export_path: b
			file_field: FILE
			choices:
			  MASS:
			    options: [Monoisotopic]
			    index: 3
		`,
		"incomplete.yml": `
			url: https://mascot.example.org/cgi/
		`,
	})

	p, err := LoadPortal(dir + "/mascot.yml")
	require.NoError(t, err)
	assert.Equal(t, "https://mascot.example.org/cgi/", p.URL)
	assert.Equal(t, 45*time.Minute, p.Timeout)
	assert.Equal(t, "file", p.TokenParam)
	assert.Equal(t, "1.2", p.Fields["TOL"])
	format, err := p.ExportFormat.Value()
	require.NoError(t, err)
	assert.Equal(t, "pepXML", format)
	assert.NotEmpty(t, p.UserAgent)

	_, err = LoadPortal(dir + "/bad-index.yml")
	assert.ErrorContains(t, err, "choice MASS: option index 3 out of range")

	_, err = LoadPortal(dir + "/incomplete.yml")
	assert.ErrorContains(t, err, "submit_path is required")

	_, err = LoadPortal(dir + "/none.yml")
	assert.Error(t, err)
}
