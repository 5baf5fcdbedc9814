package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/loomworks/loom/internal/generate"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		prompt     string
		benchSteps int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       "Explain the theory of relativity in simple terms.",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of tokens to generate per run",
			Value:       128,
			Destination: &benchSteps,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run standardized performance benchmarks",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(cmd, cfg)
			log := buildLogger()

			loadStart := time.Now()
			eng, modelID, err := buildEngine(log, engineSetup{})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loadDuration := time.Since(loadStart)

			// Print system info
			fmt.Println("=== Loom Benchmark ===")
			fmt.Printf("Model:    %s\n", modelID)
			fmt.Printf("CPUs:     %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:     %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Steps:    %d tokens\n", benchSteps)
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			opts := generate.Default()
			opts.MaxNewTokens = int(benchSteps)
			opts.Seed = 42

			// Warmup
			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := eng.Generate(ctx, prompt, opts, nil); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			// Benchmark runs
			type runResult struct {
				TPS      float64
				Duration time.Duration
				Tokens   int
				Prompt   int
				Cached   int
			}
			results := make([]runResult, 0, benchRuns)

			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				res, err := eng.Generate(ctx, prompt, opts, nil)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, runResult{
					TPS:      res.Stats.TPS,
					Duration: res.Stats.Duration,
					Tokens:   res.Stats.TokensGenerated,
					Prompt:   res.Stats.PromptTokens,
					Cached:   res.Stats.CachedTokens,
				})
			}

			// Print results
			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %10s %10s %8s %8s %8s\n", "Run", "Gen", "Duration", "Tokens", "Prompt", "Cached")
			fmt.Printf("%-6s %10s %10s %8s %8s %8s\n", "---", "tps", "", "", "", "")

			var sumTPS float64
			for i, r := range results {
				fmt.Printf("%-6d %10.2f %10s %8d %8d %8d\n",
					i+1, r.TPS, r.Duration.Round(time.Millisecond), r.Tokens, r.Prompt, r.Cached)
				sumTPS += r.TPS
			}

			fmt.Printf("\n%-6s %10.2f\n", "Avg", sumTPS/float64(len(results)))

			// Memory stats
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			return nil
		},
	}
}
