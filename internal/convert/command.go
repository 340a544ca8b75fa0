package convert

import (
	"context"
	"fmt"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/fsutil"
	"github.com/vk/psmgrid/internal/procgraph"
)

// FormatConverter transforms one engine's raw output into pepXML.
type FormatConverter interface {
	Convert(ctx context.Context, raw, canonical string) error
}

// Command is a FormatConverter backed by an external program. Its template
// sees the variables input and output.
type Command struct {
	Template *config.Template
	Starter  procgraph.Starter
	// Vars are merged into every rendering, e.g. database or enzyme.
	Vars config.Vars
}

// Start launches the converter without waiting for it.
func (c *Command) Start(ctx context.Context, raw, canonical string) (*procgraph.Handle, error) {
	vars := config.Vars{}
	for k, v := range c.Vars {
		vars[k] = v
	}
	vars["input"] = raw
	vars["output"] = canonical

	rendered, err := c.Template.Render(vars)
	if err != nil {
		return nil, err
	}
	return c.Starter.Spawn(ctx, procgraph.Command{
		Name:    c.Template.Name,
		Program: rendered.Program,
		Args:    rendered.Args,
		Stdout:  rendered.Stdout,
		File:    raw,
		Timeout: c.Template.Timeout,
	})
}

// Convert runs the converter to completion and checks that it produced
// canonical.
func (c *Command) Convert(ctx context.Context, raw, canonical string) error {
	h, err := c.Start(ctx, raw, canonical)
	if err != nil {
		return err
	}
	if _, err := h.Wait(ctx); err != nil {
		return err
	}
	if err := fsutil.NonEmpty(canonical); err != nil {
		return fmt.Errorf("%s: %w", c.Template.Name, err)
	}
	return nil
}
