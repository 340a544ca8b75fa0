package engine

import (
	"context"
	"errors"

	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/remote"
)

// mascot submits each variant through its own session.
func (b *builder) mascot() error {
	if b.env.Sessions == nil {
		return errors.New("no remote portal configured for mascot")
	}
	spectra := b.spectra(".mgf")

	for _, v := range Variants() {
		job := b.in.Job(v)
		database, err := b.env.Resolver.Database(string(Mascot), job.DatabaseName())
		if err != nil {
			return err
		}
		output := job.OutputPath(b.dir, Mascot)

		if err := b.step("submit-"+string(v), func(ctx context.Context) error {
			session, err := b.env.Sessions()
			if err != nil {
				return err
			}
			ctxlog.FromContext(ctx).Info("Submitting remote search.", "variant", v, "database", database)
			data, err := session.Submit(ctx, remote.Job{Database: database, Upload: spectra})
			if err != nil {
				return err
			}
			return remote.WriteResult(output, data)
		}); err != nil {
			return err
		}
	}
	return nil
}
