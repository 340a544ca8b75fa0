package convert

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// psm is the rank-one peptide-spectrum match of one spectrum query.
type psm struct {
	spectrum string
	scan     int
	mass     float64
	charge   int
	peptide  string
	proteins []string
	scores   map[string]float64
}

type spectrumQuery struct {
	Spectrum  string         `xml:"spectrum,attr"`
	StartScan int            `xml:"start_scan,attr"`
	Mass      float64        `xml:"precursor_neutral_mass,attr"`
	Charge    int            `xml:"assumed_charge,attr"`
	Results   []searchResult `xml:"search_result"`
}

type searchResult struct {
	Hits []searchHit `xml:"search_hit"`
}

type searchHit struct {
	Rank         int    `xml:"hit_rank,attr"`
	Peptide      string `xml:"peptide,attr"`
	PrevAA       string `xml:"peptide_prev_aa,attr"`
	NextAA       string `xml:"peptide_next_aa,attr"`
	Protein      string `xml:"protein,attr"`
	Alternatives []struct {
		Protein string `xml:"protein,attr"`
	} `xml:"alternative_protein"`
	Scores []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"search_score"`
}

// readPepXML streams the spectrum queries of a pepXML file and returns the
// rank-one match of each. Queries without hits are dropped.
func readPepXML(path string) ([]psm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []psm
	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "spectrum_query" {
			continue
		}

		var q spectrumQuery
		if err := dec.DecodeElement(&q, &se); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if m, ok := q.topHit(); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *spectrumQuery) topHit() (psm, bool) {
	for _, r := range q.Results {
		for _, h := range r.Hits {
			if h.Rank != 1 {
				continue
			}
			m := psm{
				spectrum: q.Spectrum,
				scan:     q.StartScan,
				mass:     q.Mass,
				charge:   q.Charge,
				peptide:  flank(h.PrevAA) + "." + h.Peptide + "." + flank(h.NextAA),
				scores:   make(map[string]float64, len(h.Scores)),
			}
			if acc := accession(h.Protein); acc != "" {
				m.proteins = append(m.proteins, acc)
			}
			for _, alt := range h.Alternatives {
				if acc := accession(alt.Protein); acc != "" {
					m.proteins = append(m.proteins, acc)
				}
			}
			for _, s := range h.Scores {
				v, err := strconv.ParseFloat(strings.TrimSpace(s.Value), 64)
				if err != nil {
					continue
				}
				m.scores[s.Name] = v
			}
			return m, true
		}
	}
	return psm{}, false
}

// accession is the first whitespace-delimited field of a protein attribute.
func accession(protein string) string {
	fields := strings.Fields(protein)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func flank(aa string) string {
	if aa == "" {
		return "-"
	}
	return aa
}
