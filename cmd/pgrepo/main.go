package main

import (
	"fmt"
	"os"

	"github.com/pgrepo/pgrepo/internal/cli"
	"github.com/pgrepo/pgrepo/internal/errkind"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(errkind.As(err).ExitCode())
	}
}
