// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/**
 * Copyright 2024 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/pipeline"
	"github.com/cloudwego/abgen/internal/progress"
	"github.com/cloudwego/abgen/internal/runner"
	"github.com/cloudwego/abgen/internal/store"
	"github.com/cloudwego/abgen/llm"
	"github.com/cloudwego/abgen/llm/agent"
	"github.com/cloudwego/abgen/llm/mcp"
	"github.com/cloudwego/abgen/llm/skill"
	"github.com/cloudwego/abgen/llm/tool"
	"github.com/cloudwego/abgen/server"
	"github.com/cloudwego/abgen/version"
)

const Usage = `abgen <Action> [Prompt] [Flags]
Action:
   generate     run the pipeline once for the given prompt and write the project to disk
   serve        run the HTTP API of the generation pipeline
   mcp          run as a MCP server exposing the generation tools on stdio
   version      print the version of abgen
Model env:
   API_TYPE     backend type: ollama, ark, openai, claude, dashscope, deepseek
   API_KEY      credential for the backend (not needed for ollama)
   MODEL_NAME   model endpoint name
   BASE_URL     optional API base URL override
`

func main() {
	flags := flag.NewFlagSet("abgen", flag.ExitOnError)

	flagHelp := flags.Bool("h", false, "Show help message.")
	flagVerbose := flags.Bool("verbose", false, "Verbose mode.")
	flagName := flags.String("name", "", "Project name; a timestamped one is generated when empty.")
	flagLanguage := flags.String("language", "python", "Target language of the generated code: python or go.")
	flagThreshold := flags.Float64("threshold", 0, "Review convergence threshold between 0 and 1 (0 for default).")
	flagMaxIterations := flags.Int("max-iterations", 0, "Review loop iteration cap (0 for default).")
	flagPolicy := flags.String("policy", "", "Continue-policy expression for the review loop, e.g. 'score < 0.9 && iteration < 5'.")
	flagOutput := flags.String("output", "generated_projects", "Directory where finished projects are written.")
	flagDB := flags.String("db", "abgen_data", "Badger store directory for run results; empty for in-memory.")
	flagAddr := flags.String("addr", server.DefaultAddr, "HTTP listen address for serve.")
	flagThinking := flags.Bool("thinking", false, "Offer the sequential thinking tools to the coder role (needs npx).")
	flagPrompts := flags.String("prompts", "", "Directory of prompt packs overriding the built-in role prompts.")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])

	switch action {
	case "version":
		fmt.Fprintf(os.Stdout, "%s\n", version.Version)

	case "generate":
		prompt := parseArgsAndFlags(flags, true, flagHelp, flagVerbose)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, _, cleanup := buildRunner(ctx, modelFromEnv(), *flagDB, *flagOutput, *flagPrompts, *flagLanguage, *flagThinking)
		defer cleanup()

		res, err := r.RunOnce(ctx, runner.StartRequest{
			Prompt:      prompt,
			ProjectName: *flagName,
			Language:    *flagLanguage,
			Loop: loop.Config{
				ConvergenceThreshold: *flagThreshold,
				MaxIterations:        *flagMaxIterations,
				ContinueExpr:         *flagPolicy,
			},
		})
		if err != nil {
			log.Error("Failed to run generation: %v", err)
			os.Exit(1)
		}
		if res.Status != string(pipeline.RunCompleted) {
			log.Error("Generation failed: %s", res.Failure)
			os.Exit(1)
		}
		log.Info("Generation completed: %d files, quality %.2f after %d review iterations",
			len(res.Files), res.Quality, res.Iterations)

	case "serve":
		parseArgsAndFlags(flags, false, flagHelp, flagVerbose)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, rs, cleanup := buildRunner(ctx, modelFromEnv(), *flagDB, *flagOutput, *flagPrompts, *flagLanguage, *flagThinking)
		defer cleanup()

		err := server.Serve(ctx, server.Options{
			Addr:    *flagAddr,
			Runner:  r,
			View:    progress.NewProjection(r.Registry(), rs),
			Results: rs,
			Debug:   *flagVerbose,
		})
		if err != nil {
			log.Error("Failed to run HTTP API: %v", err)
			os.Exit(1)
		}

	case "mcp":
		parseArgsAndFlags(flags, false, flagHelp, flagVerbose)

		r, rs, cleanup := buildRunner(context.Background(), modelFromEnv(), *flagDB, *flagOutput, *flagPrompts, *flagLanguage, *flagThinking)
		defer cleanup()

		svr := mcp.NewServer(mcp.ServerOptions{
			ServerName:    "abgen",
			ServerVersion: version.Version,
			Verbose:       *flagVerbose,
			GenerationToolsOptions: tool.GenerationToolsOptions{
				Runner:  r,
				View:    progress.NewProjection(r.Registry(), rs),
				Results: rs,
			},
		})
		if err := svr.ServeStdio(); err != nil {
			log.Error("Failed to run MCP server: %v", err)
			os.Exit(1)
		}

	default:
		flags.Usage()
		os.Exit(1)
	}
}

func parseArgsAndFlags(flags *flag.FlagSet, needPrompt bool, flagHelp *bool, flagVerbose *bool) (prompt string) {
	if needPrompt {
		if len(os.Args) < 3 {
			flags.Usage()
			os.Exit(1)
		}
		prompt = os.Args[2]
		if len(os.Args) > 3 {
			flags.Parse(os.Args[3:])
		}
	} else if len(os.Args) > 2 {
		flags.Parse(os.Args[2:])
	}

	if flagHelp != nil && *flagHelp {
		flags.Usage()
		os.Exit(0)
	}

	if flagVerbose != nil && *flagVerbose {
		log.SetLogLevel(log.DebugLevel)
	}

	return prompt
}

func modelFromEnv() llm.ModelConfig {
	cfg := llm.ModelConfig{
		APIType:   llm.NewModelType(os.Getenv("API_TYPE")),
		APIKey:    os.Getenv("API_KEY"),
		ModelName: os.Getenv("MODEL_NAME"),
		BaseURL:   os.Getenv("BASE_URL"),
	}
	if cfg.APIType == llm.ModelTypeUnknown {
		log.Error("env API_TYPE is required")
		os.Exit(1)
	}
	if cfg.APIKey == "" && cfg.APIType != llm.ModelTypeOllama {
		log.Error("env API_KEY is required")
		os.Exit(1)
	}
	if cfg.ModelName == "" {
		log.Error("env MODEL_NAME is required")
		os.Exit(1)
	}
	if s := os.Getenv("MODEL_TEMPERATURE"); s != "" {
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			t := float32(f)
			cfg.Temperature = &t
		} else {
			log.Warn("ignoring invalid MODEL_TEMPERATURE %q", s)
		}
	}
	return cfg
}

// buildRunner assembles the generation stack: role agents on the configured
// model, the result store, the on-disk project writer, and the worker pool.
func buildRunner(ctx context.Context, cfg llm.ModelConfig, dbDir, outDir, promptsDir, language string, thinking bool) (*runner.Runner, *store.ResultStore, func()) {
	var prompts map[string]string
	if promptsDir != "" {
		packs, err := skill.NewLoader(agent.Roles()).LoadDir(promptsDir)
		if err != nil {
			log.Error("Failed to load prompt packs: %v", err)
			os.Exit(1)
		}
		prompts = skill.Overrides(packs)
		log.Info("Loaded %d prompt packs from %s", len(packs), promptsDir)
	}

	deps, err := agent.BuildDeps(ctx, llm.NewChatModel(cfg), agent.RolesOptions{
		Language: language,
		Thinking: thinking,
		Prompts:  prompts,
	})
	if err != nil {
		log.Error("Failed to build role agents: %v", err)
		os.Exit(1)
	}

	dbCfg := store.InMemoryConfig()
	if dbDir != "" {
		dbCfg = store.DefaultConfig(dbDir)
	}
	db, err := store.Open(dbCfg)
	if err != nil {
		log.Error("Failed to open result store: %v", err)
		os.Exit(1)
	}

	writer, err := store.NewWriter(outDir)
	if err != nil {
		db.Close()
		log.Error("Failed to prepare projects dir: %v", err)
		os.Exit(1)
	}

	rs := store.NewResultStore(db)
	r := runner.New(runner.Options{Deps: deps, Store: rs, Writer: writer})

	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Shutdown(sctx); err != nil {
			log.Warn("runner shutdown: %v", err)
		}
		db.Close()
	}
	return r, rs, cleanup
}
