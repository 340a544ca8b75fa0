//go:build !unix

package procgraph

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(p *os.Process, _ signal) {
	if p != nil {
		_ = p.Kill()
	}
}

func isResourceExhaustion(error) bool { return false }
