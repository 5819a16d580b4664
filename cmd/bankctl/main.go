package main

import (
	"context"
	"fmt"
	"os"

	"banksync/internal/cli"
	"banksync/internal/log"
)

var Version = "dev"

func main() {
	cli.LoadEnvFile()

	// Commands print their own output; keep library logs to warnings.
	logger := cli.SetupLogger("warn")
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		logger = cli.SetupLogger(lvl)
	}
	logger = logger.WithComponent(log.ComponentCLI)

	root := cli.NewRootCommand(cli.OpenFromEnv(logger), Version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
