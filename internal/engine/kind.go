package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind is an engine family.
type Kind string

const (
	OMSSA  Kind = "omssa"
	Tide   Kind = "tide"
	Tandem Kind = "tandem"
	Mascot Kind = "mascot"
)

// AllKinds lists every supported family in scheduling order.
func AllKinds() []Kind {
	return []Kind{OMSSA, Tide, Tandem, Mascot}
}

// ParseKind accepts a family name, case-insensitively. "xtandem" is an alias
// of tandem.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case OMSSA, Tide, Tandem, Mascot:
		return k, nil
	case "xtandem":
		return Tandem, nil
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

// Selection is the per-family on/off switch of a run.
type Selection map[Kind]bool

// ParseSelection builds a Selection from family names.
func ParseSelection(names ...string) (Selection, error) {
	sel := Selection{}
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			k, err := ParseKind(part)
			if err != nil {
				return nil, err
			}
			sel[k] = true
		}
	}
	return sel, nil
}

// Kinds returns the selected families in scheduling order.
func (s Selection) Kinds() []Kind {
	var out []Kind
	for _, k := range AllKinds() {
		if s[k] {
			out = append(out, k)
		}
	}
	return out
}

// Variant distinguishes the real search from its control.
type Variant string

const (
	Target Variant = "target"
	Decoy  Variant = "decoy"
)

// Variants returns target then decoy.
func Variants() []Variant {
	return []Variant{Target, Decoy}
}

// Input holds the driver invocation parameters for one spectra file.
type Input struct {
	// File is the spectra input. Only its base name is used: spectra are
	// read from the workspace spectra directory.
	File     string
	Database string
	Enzyme   string
	// Run is the iteration index. Zero leaves it out of output names.
	Run int
}

// Validate checks the mandatory parameters.
func (in Input) Validate() error {
	switch {
	case in.File == "":
		return fmt.Errorf("input file is required")
	case in.Database == "":
		return fmt.Errorf("database is required")
	case in.Enzyme == "":
		return fmt.Errorf("enzyme is required")
	case in.Run < 0:
		return fmt.Errorf("run index must not be negative, got %d", in.Run)
	}
	return nil
}

// Stem is the base name shared by every file produced for this input.
func (in Input) Stem() string {
	name := filepath.Base(in.File)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mgf", ".ms2", ".mzxml", ".mzml":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if in.Run > 0 {
		name += "_" + strconv.Itoa(in.Run)
	}
	return name
}

// Job returns the search job of one variant.
func (in Input) Job(v Variant) SearchJob {
	return SearchJob{
		InputFile: in.File,
		Database:  in.Database,
		Enzyme:    in.Enzyme,
		Variant:   v,
		Run:       in.Run,
	}
}

// SearchJob is one variant of one input. It is a value: copy it freely.
type SearchJob struct {
	InputFile string
	Database  string
	Enzyme    string
	Variant   Variant
	Run       int
}

// DatabaseName is the logical database searched by this variant. Decoy
// databases carry the "-r" suffix.
func (j SearchJob) DatabaseName() string {
	if j.Variant == Decoy {
		return j.Database + "-r"
	}
	return j.Database
}

// Prefix is the path every output of this job starts with:
// <searchDir>/<stem>-<variant>_<kind>.
func (j SearchJob) Prefix(searchDir string, k Kind) string {
	stem := Input{File: j.InputFile, Run: j.Run}.Stem()
	return filepath.Join(searchDir, fmt.Sprintf("%s-%s_%s", stem, j.Variant, k))
}

// OutputPath is the pepXML file recorded in the manifest.
func (j SearchJob) OutputPath(searchDir string, k Kind) string {
	return j.Prefix(searchDir, k) + ".pep.xml"
}
