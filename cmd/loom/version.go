package main

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/version"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Get()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.Date != "" {
				fmt.Printf("build date: %s\n", info.Date)
			}
			return nil
		},
	}
}
