package engine

import (
	"encoding/xml"
	"io"

	"github.com/vk/psmgrid/internal/fsutil"
)

// biomlNote is one input parameter of an X!Tandem run.
type biomlNote struct {
	Type  string `xml:"type,attr"`
	Label string `xml:"label,attr"`
	Value string `xml:",chardata"`
}

type bioml struct {
	XMLName xml.Name    `xml:"bioml"`
	Notes   []biomlNote `xml:"note"`
}

// writeBioml writes an X!Tandem input file atomically.
func writeBioml(path string, notes []biomlNote) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "    ")
		if err := enc.Encode(bioml{Notes: notes}); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}

func inputNote(label, value string) biomlNote {
	return biomlNote{Type: "input", Label: label, Value: value}
}
