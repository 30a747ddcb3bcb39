// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package main

import (
	"fmt"
	"os"

	"github.com/virtualcable/udsactor/cmd/udsactor/commands"
	"github.com/virtualcable/udsactor/internal/cmd"
	"github.com/virtualcable/udsactor/service/windows"
)

func main() {
	os.Exit(Main(os.Args))
}

// Main runs the udsactor command and returns the exit code.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return cmd.Main(commands.NewUDSActorCommand(), ctx, commandArgs(args[1:], windows.IsService))
}

// commandArgs selects the service command when the service control
// manager starts the binary without arguments.
func commandArgs(args []string, isService func() (bool, error)) []string {
	if len(args) > 0 {
		return args
	}
	if ok, err := isService(); err == nil && ok {
		return []string{"service"}
	}
	return args
}
