package engine

import (
	"context"
	"path/filepath"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/convert"
)

// tide indexes both databases and imports the spectra concurrently. Each
// search waits for its own index and the shared import; each conversion
// waits only for its own search.
func (b *builder) tide() error {
	index, err := b.template("index")
	if err != nil {
		return err
	}
	importSpectra, err := b.template("import")
	if err != nil {
		return err
	}
	search, err := b.template("search")
	if err != nil {
		return err
	}
	convertTmpl, err := b.template("convert")
	if err != nil {
		return err
	}
	enzyme, err := b.env.Resolver.Enzyme(string(Tide), b.in.Enzyme)
	if err != nil {
		return err
	}

	spectra := b.spectra(".ms2")
	records := filepath.Join(b.dir, b.in.Stem()+"-tide.spectrumrecords")

	importVars := b.vars(b.in.Job(Target))
	delete(importVars, "variant")
	importVars["spectra"] = spectra
	importVars["output"] = records
	if err := b.step("import-spectra", func(ctx context.Context) error {
		return b.run(ctx, "import-spectra", importSpectra, importVars, spectra)
	}); err != nil {
		return err
	}

	for _, v := range Variants() {
		job := b.in.Job(v)
		database, err := b.env.Resolver.Database(b.databaseFamily(), job.DatabaseName())
		if err != nil {
			return err
		}
		prefix := job.Prefix(b.dir, Tide)
		results := prefix + ".results"
		output := job.OutputPath(b.dir, Tide)

		vars := b.vars(job)
		vars["database"] = database
		vars["enzyme"] = enzyme
		vars["index"] = database
		vars["proteins"] = database + ".protix"
		vars["peptides"] = database + ".pepix"

		indexID := "index-" + string(v)
		searchID := "search-" + string(v)
		convertID := "convert-" + string(v)

		indexVars := copyVars(vars)
		indexVars["output"] = database
		if err := b.step(indexID, func(ctx context.Context) error {
			return b.run(ctx, indexID, index, indexVars, database)
		}); err != nil {
			return err
		}

		searchVars := copyVars(vars)
		searchVars["spectra"] = records
		searchVars["output"] = results
		if err := b.step(searchID, func(ctx context.Context) error {
			return b.run(ctx, searchID, search, searchVars, records)
		}, indexID, "import-spectra"); err != nil {
			return err
		}

		conv := &convert.Command{Template: convertTmpl, Starter: b.env.Procs, Vars: vars}
		if err := b.step(convertID, func(ctx context.Context) error {
			return conv.Convert(ctx, results, output)
		}, searchID); err != nil {
			return err
		}
	}
	return nil
}

func copyVars(v config.Vars) config.Vars {
	out := make(config.Vars, len(v))
	for k, s := range v {
		out[k] = s
	}
	return out
}
