package engine

import (
	"context"

	"github.com/vk/psmgrid/internal/convert"
	"github.com/vk/psmgrid/internal/ctxlog"
)

const defaultMissedCleavages = "50"

// tandem writes an input file per variant, searches, and starts the pepXML
// conversion. The conversion step returns as soon as the converter is
// running: the process belongs to the unit's group from then on.
func (b *builder) tandem() error {
	search, err := b.template("search")
	if err != nil {
		return err
	}
	convertTmpl, err := b.template("convert")
	if err != nil {
		return err
	}
	enzyme, err := b.env.Resolver.Enzyme(string(Tandem), b.in.Enzyme)
	if err != nil {
		return err
	}
	spectra := b.spectra(".mgf")

	for _, v := range Variants() {
		job := b.in.Job(v)
		prefix := job.Prefix(b.dir, Tandem)
		inputPath := prefix + ".input.xml"
		raw := prefix + ".xml"
		output := job.OutputPath(b.dir, Tandem)

		notes := b.tandemNotes(job, spectra, enzyme, raw)

		vars := b.vars(job)
		vars["spectra"] = spectra
		vars["enzyme"] = enzyme
		vars["taxon"] = job.DatabaseName()

		inputID := "input-" + string(v)
		searchID := "search-" + string(v)
		convertID := "convert-" + string(v)

		if err := b.step(inputID, func(ctx context.Context) error {
			return writeBioml(inputPath, notes)
		}); err != nil {
			return err
		}

		searchVars := copyVars(vars)
		searchVars["input"] = inputPath
		searchVars["output"] = raw
		if err := b.step(searchID, func(ctx context.Context) error {
			return b.run(ctx, searchID, search, searchVars, inputPath)
		}, inputID); err != nil {
			return err
		}

		conv := &convert.Command{Template: convertTmpl, Starter: b.env.Procs, Vars: vars}
		if err := b.step(convertID, func(ctx context.Context) error {
			h, err := conv.Start(ctx, raw, output)
			if err != nil {
				return err
			}
			ctxlog.FromContext(ctx).Debug("Converter detached.", "pid", h.PID(), "output", output)
			return nil
		}, searchID); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) tandemNotes(job SearchJob, spectra, enzyme, output string) []biomlNote {
	var notes []biomlNote
	if p := b.setting("default_parameters", ""); p != "" {
		notes = append(notes, inputNote("list path, default parameters", p))
	}
	if p := b.setting("taxonomy", ""); p != "" {
		notes = append(notes, inputNote("list path, taxonomy information", p))
	}
	return append(notes,
		inputNote("spectrum, path", spectra),
		inputNote("protein, cleavage site", enzyme),
		inputNote("scoring, maximum missed cleavage sites", b.setting("max_missed_cleavages", defaultMissedCleavages)),
		inputNote("protein, taxon", job.DatabaseName()),
		inputNote("output, path", output),
	)
}
