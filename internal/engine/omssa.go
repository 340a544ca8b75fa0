package engine

import (
	"context"
	"fmt"

	"github.com/vk/psmgrid/internal/fsutil"
	"github.com/vk/psmgrid/internal/procgraph"
)

// omssa runs the two searches independently. The search step only launches
// the process; ownership of the handle passes to the verify step, which
// awaits it and checks the output.
func (b *builder) omssa() error {
	search, err := b.template("search")
	if err != nil {
		return err
	}
	enzyme, err := b.env.Resolver.Enzyme(string(OMSSA), b.in.Enzyme)
	if err != nil {
		return err
	}
	spectra := b.spectra(".mgf")

	for _, v := range Variants() {
		job := b.in.Job(v)
		database, err := b.env.Resolver.Database(b.databaseFamily(), job.DatabaseName())
		if err != nil {
			return err
		}
		output := job.OutputPath(b.dir, OMSSA)
		vars := b.vars(job)
		vars["spectra"] = spectra
		vars["database"] = database
		vars["enzyme"] = enzyme
		vars["output"] = output

		var handle *procgraph.Handle
		searchID, verifyID := "search-"+string(v), "verify-"+string(v)

		if err := b.step(searchID, func(ctx context.Context) error {
			h, err := b.start(ctx, searchID, search, vars, spectra)
			if err != nil {
				return err
			}
			handle = h
			return nil
		}); err != nil {
			return err
		}

		if err := b.step(verifyID, func(ctx context.Context) error {
			if _, err := handle.Wait(ctx); err != nil {
				return err
			}
			if err := fsutil.NonEmpty(output); err != nil {
				return fmt.Errorf("omssa %s search: %w", v, err)
			}
			return nil
		}, searchID); err != nil {
			return err
		}
	}
	return nil
}
