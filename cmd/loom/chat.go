package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/loomworks/loom/internal/chat"
	"github.com/loomworks/loom/internal/generate"
)

func chatCmd() *cli.Command {
	var (
		system        string
		showReasoning bool
	)

	flags := append(commonModelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt for the conversation",
			Destination: &system,
		},
		&cli.BoolFlag{
			Name:        "show-reasoning",
			Usage:       "print think-block text instead of hiding it",
			Destination: &showReasoning,
		},
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Start an interactive multi-turn conversation",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(cmd, cfg)
			applySamplingConfig(cmd, cfg)
			if system == "" && !cmd.IsSet("system") {
				system = cfg.System
			}
			log := buildLogger()

			eng, _, err := buildEngine(log, engineSetup{})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			mgr := chat.NewManager(eng, log)
			defer func() { _ = mgr.Close() }()

			conv, err := mgr.Open("", chat.Config{System: system, Options: samplingOptions()})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open conversation: %v", err), 1)
			}

			if stdinIsTTY() {
				fmt.Fprintln(os.Stderr, "Interactive chat. /help lists commands, /quit exits.")
			}

			var lastStats *generate.Stats
			for {
				line, err := readInteractiveLine("> ")
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
				}
				input := strings.TrimSpace(line)
				switch input {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/help":
					fmt.Fprintln(os.Stderr, "/reset   clear the conversation")
					fmt.Fprintln(os.Stderr, "/stats   show stats for the last turn")
					fmt.Fprintln(os.Stderr, "/quit    exit")
					continue
				case "/reset":
					if err := conv.Reset(); err != nil {
						fmt.Fprintf(os.Stderr, "error: reset: %v\n", err)
						continue
					}
					fmt.Fprintln(os.Stderr, "conversation cleared")
					continue
				case "/stats":
					if lastStats == nil {
						fmt.Fprintln(os.Stderr, "no turns yet")
						continue
					}
					fmt.Fprintf(os.Stderr, "%.2f TPS (%d tokens in %s, %d cached, %d prompt)\n",
						lastStats.TPS, lastStats.TokensGenerated,
						lastStats.Duration.Round(time.Millisecond),
						lastStats.CachedTokens, lastStats.PromptTokens)
					continue
				}

				// Ctrl+C during a turn cancels the turn, not the session.
				turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
				printer := newTokenPrinter(os.Stdout, showReasoning, stdoutIsTTY())
				reply, askErr := conv.Ask(turnCtx, input, printer.Print)
				stop()

				if printer.Finish() {
					fmt.Println()
				}
				if askErr != nil {
					if reply == nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", askErr)
						continue
					}
					fmt.Fprintln(os.Stderr, "(turn interrupted)")
				}
				if reply != nil {
					st := reply.Raw.Stats
					lastStats = &st
					log.Debug("turn complete",
						"tps", fmt.Sprintf("%.2f", st.TPS),
						"generated", st.TokensGenerated,
						"cached", st.CachedTokens)
				}
			}
		},
	}
}
