package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/reasoning"
)

func runCmd() *cli.Command {
	var (
		prompt        string
		quiet         bool
		echoPrompt    bool
		showReasoning bool
		timeout       time.Duration
		cpuProfile    string
		memProfile    string
	)

	flags := append(commonModelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text (read from stdin when omitted and piped)",
			Destination: &prompt,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "print only the final text, no streaming",
			Destination: &quiet,
		},
		&cli.BoolFlag{
			Name:        "echo-prompt",
			Usage:       "print prompt text before generation",
			Destination: &echoPrompt,
		},
		&cli.BoolFlag{
			Name:        "show-reasoning",
			Usage:       "print think-block text instead of hiding it",
			Destination: &showReasoning,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "wall-clock budget for the generation (0 = none)",
			Destination: &timeout,
		},
		&cli.StringFlag{
			Name:        "cpuprofile",
			Usage:       "write cpu profile to file",
			Destination: &cpuProfile,
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Usage:       "write memory profile to file",
			Destination: &memProfile,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate a completion for a single prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(cmd, cfg)
			applySamplingConfig(cmd, cfg)
			log := buildLogger()

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}
			if memProfile != "" {
				defer func() {
					f, err := os.Create(memProfile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer func() { _ = f.Close() }()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			if prompt == "" && !stdinIsTTY() {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read stdin: %v", err), 1)
				}
				prompt = strings.TrimRight(string(raw), "\n")
			}
			if strings.TrimSpace(prompt) == "" {
				return cli.Exit("error: --prompt is required (or pipe text on stdin)", 1)
			}

			eng, _, err := buildEngine(log, engineSetup{})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			opts := samplingOptions()
			opts.Timeout = timeout

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			if echoPrompt {
				fmt.Print(prompt)
			}

			printer := newTokenPrinter(os.Stdout, showReasoning, stdoutIsTTY())
			var fn generate.StreamFunc
			if !quiet {
				fn = printer.Print
			}

			res, err := eng.Generate(ctx, prompt, opts, fn)
			if res == nil {
				return cli.Exit(fmt.Sprintf("error: generation: %v", err), 1)
			}

			if quiet {
				seg := reasoning.Split(res.Text)
				if showReasoning && seg.Reasoning != "" {
					fmt.Println(strings.TrimSpace(seg.Reasoning))
				}
				fmt.Print(seg.Content)
				fmt.Println()
			} else if printer.Finish() {
				fmt.Println()
			}

			st := res.Stats
			line := fmt.Sprintf("Stats: %.2f TPS (%d tokens in %s)", st.TPS, st.TokensGenerated, st.Duration.Round(time.Millisecond))
			if st.CachedTokens > 0 {
				line += fmt.Sprintf(", %d cached", st.CachedTokens)
			}
			fmt.Fprintln(os.Stderr, line)

			switch res.Reason {
			case generate.FinishTimeout:
				log.Warn("generation hit the wall-clock budget", "timeout", timeout)
			case generate.FinishCancelled:
				log.Warn("generation cancelled")
			}
			return nil
		},
	}
}

func stdoutIsTTY() bool {
	st, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
