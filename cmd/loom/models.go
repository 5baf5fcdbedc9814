package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/kvcache"
	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/toylm"
)

const envLoomModel = "LOOM_MODEL"

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveModelSpec picks the model spec: flag first, then environment, then
// the builtin default.
func resolveModelSpec(flagValue string) string {
	if s := strings.TrimSpace(flagValue); s != "" {
		return s
	}
	if s := strings.TrimSpace(os.Getenv(envLoomModel)); s != "" {
		return s
	}
	return "builtin"
}

// buildModel instantiates the model named by spec. Specs take the form
// "name" or "name:key=value,...". The only in-tree model is the builtin
// one; real weights arrive through the model.Model seam.
func buildModel(spec string, window int) (model.Model, string, error) {
	name, params := spec, ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		name, params = spec[:i], spec[i+1:]
	}

	switch name {
	case "builtin", "toy":
		modelSeed := int64(0)
		for _, kv := range strings.Split(params, ",") {
			if kv == "" {
				continue
			}
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, "", fmt.Errorf("model spec %q: malformed parameter %q", spec, kv)
			}
			switch key {
			case "seed":
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, "", fmt.Errorf("model spec %q: seed: %v", spec, err)
				}
				modelSeed = n
			case "window":
				n, err := strconv.Atoi(value)
				if err != nil || n < 2 {
					return nil, "", fmt.Errorf("model spec %q: window must be an integer >= 2", spec)
				}
				window = n
			default:
				return nil, "", fmt.Errorf("model spec %q: unknown parameter %q", spec, key)
			}
		}
		return toylm.New(modelSeed, window), "builtin", nil
	default:
		return nil, "", fmt.Errorf("unknown model %q (supported: builtin[:seed=N,window=N])", name)
	}
}

// engineSetup bundles what buildEngine needs beyond the shared flag vars.
type engineSetup struct {
	MaxConcurrent int64
	CacheSessions int
	CacheBytes    int64
}

// buildEngine assembles the model, tokenizer, cache store and engine from
// the shared flag variables.
func buildEngine(log logger.Logger, setup engineSetup) (*generate.Engine, string, error) {
	spec := resolveModelSpec(modelSpec)
	m, id, err := buildModel(spec, int(maxContext))
	if err != nil {
		return nil, "", err
	}
	store := kvcache.NewStore(setup.CacheSessions, setup.CacheBytes, log)
	eng, err := generate.NewEngine(m, toylm.Tokenizer{}, store, generate.Config{
		MaxConcurrent: setup.MaxConcurrent,
		Logger:        log,
	})
	if err != nil {
		return nil, "", err
	}
	return eng, id, nil
}

// samplingOptions folds the shared sampling flag variables into generation
// options.
func samplingOptions() generate.Options {
	opts := generate.Default()
	opts.MaxNewTokens = int(steps)
	opts.Temperature = float32(temp)
	opts.TopK = int(topK)
	opts.TopP = float32(topP)
	opts.MinP = float32(minP)
	opts.RepetitionPenalty = float32(repeatPenalty)
	opts.RepetitionWindow = int(repeatLastN)
	opts.Seed = seed
	return opts
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
