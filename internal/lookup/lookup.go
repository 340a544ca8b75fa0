// Package lookup resolves logical enzyme and database names to the tokens
// each engine family expects, from a static YAML reference file.
package lookup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind names the reference table a lookup went to.
type Kind string

const (
	KindEnzyme   Kind = "enzyme"
	KindDatabase Kind = "database"
)

// LookupError reports a logical name with no entry for the family.
type LookupError struct {
	Family string
	Kind   Kind
	Name   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no %s %q defined for %s", e.Kind, e.Name, e.Family)
}

// Resolver turns logical names into engine-specific tokens.
type Resolver interface {
	Enzyme(family, name string) (string, error)
	Database(family, name string) (string, error)
}

// Table is the YAML-backed Resolver.
//
//	enzymes:
//	  omssa:  {trypsin: "0"}
//	  tandem: {trypsin: "[RK]|{P}"}
//	databases:
//	  fasta:  {human: /db/human.fasta, human-r: /db/human-r.fasta}
//	  mascot: {human: SwissProt_human}
type Table struct {
	Enzymes   map[string]map[string]string `yaml:"enzymes"`
	Databases map[string]map[string]string `yaml:"databases"`
}

// LoadFile reads a reference table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lookup table: %w", err)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing lookup table %s: %w", path, err)
	}
	return &t, nil
}

// Enzyme implements Resolver.
func (t *Table) Enzyme(family, name string) (string, error) {
	return resolve(t.Enzymes, KindEnzyme, family, name)
}

// Database implements Resolver.
func (t *Table) Database(family, name string) (string, error) {
	return resolve(t.Databases, KindDatabase, family, name)
}

func resolve(tables map[string]map[string]string, kind Kind, family, name string) (string, error) {
	if token, ok := tables[family][name]; ok && token != "" {
		return token, nil
	}
	return "", &LookupError{Family: family, Kind: kind, Name: name}
}
