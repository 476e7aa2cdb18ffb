package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/systmms/vaultconfig/cmd/vaultconfig/commands"
	"github.com/systmms/vaultconfig/internal/config"
	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/execenv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		var exitErr execenv.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	cfg := &config.Config{}
	rootCmd := commands.NewRootCommand(cfg, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	defer func() {
		if cfg.Logger != nil {
			_ = cfg.Logger.Sync()
		}
	}()
	return rootCmd.ExecuteContext(context.Background())
}
