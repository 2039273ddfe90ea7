// Package main provides the entry point for ckptctl.
//
// ckptctl lists an agent's sequence sets, inspects individual deltas and
// verifies stored checkpoints without starting the agent.
//
// Usage:
//
//	ckptctl -c agent.yaml sets
//	ckptctl -c agent.yaml inspect 12
//	ckptctl -c agent.yaml verify --suffix _00000010
package main

import (
	"os"

	"github.com/codeaudit/cougaar-core-sub004/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		command.PrintError("%v", err)
		os.Exit(1)
	}
}
