package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/allaspectsdev/mlxd/internal/cache"
	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// cmdRun implements single-shot mode: read a prompt from
// --prompt or stdin, run one completion through the same
// generate.Coordinator the HTTP surface uses, and write the generated
// text to stdout. It never starts an HTTP listener.
func cmdRun(args []string) {
	opts, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if opts.modelID != "" {
		cfg.Model.ID = opts.modelID
	}
	if opts.rawMode {
		cfg.Generation.RawMode = true
	}
	if opts.toolParser != "" {
		cfg.Generation.ToolCallParser = opts.toolParser
	}

	prompt := opts.prompt
	if prompt == "" {
		data, readErr := io.ReadAll(bufio.NewReader(os.Stdin))
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "error reading stdin: %v\n", readErr)
			os.Exit(1)
		}
		prompt = string(data)
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "error: no prompt given (use --prompt or pipe one on stdin)")
		os.Exit(1)
	}

	cacheCfg := cache.Config{
		MaxTokens:       cfg.Cache.MaxTokens,
		TTL:             time.Hour,
		GenerationSlots: 1,
	}
	if !opts.cacheEnabled {
		// A single-shot invocation has no second request to reuse a
		// prefix for; keep the manager (it also owns the generation
		// slot) but give it no room to retain anything.
		cacheCfg.MaxTokens = 1
	}
	cacheMgr, err := cache.NewManager(cacheCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating cache: %v\n", err)
		os.Exit(1)
	}
	defer cacheMgr.Close()

	coord := &generate.Coordinator{
		Model:     model.NewEchoModel(),
		Tokenizer: model.ByteTokenizer{},
		Cache:     cacheMgr,
		ModelID:   cfg.Model.ID,
		Defaults:  cfg.Generation,
		IterConfig: generate.IteratorConfig{
			PrefillStepSize: cfg.Model.PrefillStepSize,
			CompactEvery:    cfg.Model.CompactEvery,
		},
		RequestTimeout: cfg.Server.RequestTimeoutDuration(),
	}

	messages := []model.Message{}
	if opts.system != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: opts.system})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	events, err := coord.Run(context.Background(), generate.Request{
		ModelID:   cfg.Model.ID,
		Path:      "run",
		Messages:  messages,
		Overrides: opts.overrides,
		Stream:    opts.stream,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var content string
	var finalErr error
	for ev := range events {
		if ev.Err != nil {
			finalErr = ev.Err
			continue
		}
		if opts.stream {
			fmt.Print(ev.ContentDelta)
		} else {
			content += ev.ContentDelta
		}
		if opts.verbose && ev.ReasoningDelta != "" {
			fmt.Fprint(os.Stderr, ev.ReasoningDelta)
		}
	}
	if finalErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", finalErr)
		os.Exit(1)
	}
	if !opts.stream {
		fmt.Println(content)
	} else {
		fmt.Println()
	}
}

type runOptions struct {
	modelID      string
	system       string
	prompt       string
	stream       bool
	rawMode      bool
	toolParser   string
	cacheEnabled bool
	verbose      bool
	overrides    generate.Overrides
}

func parseRunArgs(args []string) (runOptions, error) {
	opts := runOptions{cacheEnabled: true}

	next := func(i *int) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("missing value for %s", args[*i-1])
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--model":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			opts.modelID = v
		case "--system":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			opts.system = v
		case "--prompt":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			opts.prompt = v
		case "--max-tokens":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			n, perr := strconv.Atoi(v)
			if perr != nil {
				return opts, fmt.Errorf("invalid --max-tokens: %w", perr)
			}
			opts.overrides.MaxTokens = &n
		case "--temperature":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return opts, fmt.Errorf("invalid --temperature: %w", perr)
			}
			opts.overrides.Temperature = &f
		case "--top-p":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return opts, fmt.Errorf("invalid --top-p: %w", perr)
			}
			opts.overrides.TopP = &f
		case "--top-k":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			n, perr := strconv.Atoi(v)
			if perr != nil {
				return opts, fmt.Errorf("invalid --top-k: %w", perr)
			}
			opts.overrides.TopK = &n
		case "--min-p":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return opts, fmt.Errorf("invalid --min-p: %w", perr)
			}
			opts.overrides.MinP = &f
		case "--stop":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			opts.overrides.Stop = append(opts.overrides.Stop, v)
		case "--stream":
			opts.stream = true
		case "--raw":
			opts.rawMode = true
		case "--tool-call-parser":
			v, err := next(&i)
			if err != nil {
				return opts, err
			}
			opts.toolParser = v
		case "--no-cache":
			opts.cacheEnabled = false
		case "-v", "--verbose":
			opts.verbose = true
		default:
			return opts, fmt.Errorf("unknown flag %q", a)
		}
	}
	return opts, nil
}
