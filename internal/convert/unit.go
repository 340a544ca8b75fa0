package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/fsutil"
	"github.com/vk/psmgrid/internal/manifest"
	"github.com/vk/psmgrid/internal/proteins"
)

// Unit converts one manifest pair into a single scorer input file. It holds
// no state between calls and only reads the protein table.
type Unit interface {
	Convert(ctx context.Context, pair manifest.Pair, table *proteins.Table) (string, error)
}

// TabPath is the scorer input path for a pair: the target path with its
// variant marker and pepXML extension removed, e.g.
// sample-target_omssa.pep.xml becomes sample_omssa.tab.
func TabPath(pair manifest.Pair) string {
	dir, base := filepath.Split(pair.Target)
	if strings.HasSuffix(base, ".pep.xml") {
		base = strings.TrimSuffix(base, ".pep.xml")
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if i := strings.LastIndex(base, "-target_"); i >= 0 {
		base = base[:i] + "_" + base[i+len("-target_"):]
	}
	return filepath.Join(dir, base+".tab")
}

// PepXMLUnit writes a percolator tab file from a target/decoy pepXML pair.
type PepXMLUnit struct{}

// Convert implements Unit.
func (PepXMLUnit) Convert(ctx context.Context, pair manifest.Pair, table *proteins.Table) (string, error) {
	logger := ctxlog.FromContext(ctx).With("engine", pair.Engine)

	target, err := readPepXML(pair.Target)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	decoy, err := readPepXML(pair.Decoy)
	if err != nil {
		return "", err
	}

	features := featureNames(target, decoy)
	if table != nil {
		for _, v := range []struct {
			name    string
			matches []psm
		}{{"target", target}, {"decoy", decoy}} {
			if unknown := countUnknown(v.matches, table); unknown > 0 {
				logger.Warn("Matches reference proteins missing from the description table.", "variant", v.name, "count", unknown)
			}
		}
	}

	out := TabPath(pair)
	err = fsutil.WriteAtomic(out, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		writeHeader(bw, features)
		for _, m := range target {
			writeRow(bw, "target", 1, m, features)
		}
		for _, m := range decoy {
			writeRow(bw, "decoy", -1, m, features)
		}
		return bw.Flush()
	})
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", out, err)
	}

	logger.Debug("Wrote scorer input.", "path", out, "target_psms", len(target), "decoy_psms", len(decoy), "features", len(features))
	return out, nil
}

func featureNames(sets ...[]psm) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, m := range set {
			for name := range m.scores {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func countUnknown(matches []psm, table *proteins.Table) int {
	unknown := 0
	for _, m := range matches {
		for _, acc := range m.proteins {
			if _, ok := table.Lookup(acc); !ok {
				unknown++
			}
		}
	}
	return unknown
}

func writeHeader(w *bufio.Writer, features []string) {
	w.WriteString("SpecId\tLabel\tScanNr\tExpMass\tCharge")
	for _, f := range features {
		w.WriteByte('\t')
		w.WriteString(f)
	}
	w.WriteString("\tPeptide\tProteins\n")
}

func writeRow(w *bufio.Writer, prefix string, label int, m psm, features []string) {
	fmt.Fprintf(w, "%s_%s\t%d\t%d\t%s\t%d", prefix, m.spectrum, label, m.scan, formatFloat(m.mass), m.charge)
	for _, f := range features {
		w.WriteByte('\t')
		w.WriteString(formatFloat(m.scores[f]))
	}
	w.WriteByte('\t')
	w.WriteString(m.peptide)
	for _, p := range m.proteins {
		w.WriteByte('\t')
		w.WriteString(p)
	}
	w.WriteByte('\n')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
