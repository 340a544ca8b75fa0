package config

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes all possible top-level blocks from any file.
type fileRoot struct {
	Workspace *workspaceBlock `hcl:"workspace,block"`
	Process   *processBlock   `hcl:"process,block"`
	Engines   []*engineBlock  `hcl:"engine,block"`
	Remotes   []*remoteBlock  `hcl:"remote,block"`
	Scorer    *scorerBlock    `hcl:"scorer,block"`
	Proteins  *proteinsBlock  `hcl:"proteins,block"`
	Lookup    *lookupBlock    `hcl:"lookup,block"`
	Ledger    *ledgerBlock    `hcl:"ledger,block"`
	Notify    *notifyBlock    `hcl:"notify,block"`
}

type workspaceBlock struct {
	SearchDir  string `hcl:"search_dir,optional"`
	SpectraDir string `hcl:"spectra_dir,optional"`
	LogDir     string `hcl:"log_dir,optional"`
}

type processBlock struct {
	Timeout   string `hcl:"timeout,optional"`
	KillGrace string `hcl:"kill_grace,optional"`
}

type engineBlock struct {
	Kind     string            `hcl:"kind,label"`
	Steps    []*stepBlock      `hcl:"step,block"`
	Settings map[string]string `hcl:"settings,optional"`
}

type stepBlock struct {
	Name    string         `hcl:"name,label"`
	Program string         `hcl:"program"`
	Args    hcl.Expression `hcl:"args,optional"`
	Stdout  hcl.Expression `hcl:"stdout,optional"`
	Timeout string         `hcl:"timeout,optional"`
}

type remoteBlock struct {
	Kind   string `hcl:"kind,label"`
	Portal string `hcl:"portal"`
}

type scorerBlock struct {
	Program string         `hcl:"program"`
	Args    hcl.Expression `hcl:"args,optional"`
	Timeout string         `hcl:"timeout,optional"`
}

type proteinsBlock struct {
	Extension     string `hcl:"extension,optional"`
	Delimiter     string `hcl:"delimiter,optional"`
	ReleaseMemory *bool  `hcl:"release_memory,optional"`
}

type lookupBlock struct {
	File string `hcl:"file"`
}

type ledgerBlock struct {
	Path string `hcl:"path"`
}

type notifyBlock struct {
	URL       string `hcl:"url"`
	Namespace string `hcl:"namespace,optional"`
	Event     string `hcl:"event,optional"`
	Timeout   string `hcl:"timeout,optional"`
}
