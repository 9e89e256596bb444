/**
 * Copyright 2025 ByteDance Inc.
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

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/utils"
	"github.com/cloudwego/abgen/llm/prompt"
)

var _ Generator = (*Completer)(nil)

// CompleteRequest is one completion task for an agent.
type CompleteRequest struct {
	Prompt   string
	MaxTurns int           // advisory turn budget; the hard cap is fixed when the completer is built
	Timeout  time.Duration // per-attempt deadline, default from options
}

type CompleterOptions struct {
	SysPrompt prompt.Prompt
	Tools     []tool.BaseTool // runs a tool-calling agent when non-empty
	MaxTurns  int             // agent turn cap, default: 8
	Retries   int             // number of retries, default: 3
	Timeout   time.Duration   // per-attempt timeout, default: 90s
}

// Completer calls one model (optionally through a tool-calling agent)
// with per-attempt timeouts and retry on transient failures.
type Completer struct {
	name  string
	opts  CompleterOptions
	model ChatModel
	agent *react.Agent
}

func NewCompleter(name string, m ChatModel, opts CompleterOptions) *Completer {
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxTurns == 0 {
		opts.MaxTurns = 8
	}
	if opts.SysPrompt == nil {
		opts.SysPrompt = prompt.NewTextPrompt("")
	}
	c := &Completer{name: name, opts: opts, model: m}
	if len(opts.Tools) > 0 {
		ag, err := react.NewAgent(context.Background(), &react.AgentConfig{
			ToolCallingModel: m,
			ToolsConfig:      compose.ToolsNodeConfig{Tools: opts.Tools},
			MaxStep:          opts.MaxTurns,
			MessageModifier:  newMessageModifier(opts.SysPrompt.String(), name, opts.MaxTurns),
		})
		if err != nil {
			panic(err)
		}
		c.agent = ag
	}
	return c
}

func newMessageModifier(sysPrompt string, name string, limit int) func(ctx context.Context, input []*schema.Message) []*schema.Message {
	return func(ctx context.Context, input []*schema.Message) []*schema.Message {
		log.Debug("newMessageModifier, name: %v, limit: %d, input: %v", name, limit, len(input))
		if limit > 0 && len(input) >= limit-1 {
			input = append(input, schema.UserMessage("Turn limit reached. Output your final answer now and do not call any more tools!"))
		}
		return appendSysPrompt(sysPrompt, input)
	}
}

func appendSysPrompt(sysPrompt string, input []*schema.Message) []*schema.Message {
	res := make([]*schema.Message, 0, len(input)+1)
	res = append(res, schema.SystemMessage(sysPrompt))
	res = append(res, input...)
	return res
}

func (c *Completer) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	if c.agent != nil {
		return c.agent.Generate(ctx, msgs, agent.WithComposeOptions(compose.WithCallbacks(CallbackHandler{})))
	}
	return c.model.Generate(ctx, appendSysPrompt(c.opts.SysPrompt.String(), msgs))
}

// Complete runs one completion with retry. Only errors classified as
// retryable get another attempt; backoff doubles from 1s, capped at 10s.
func (c *Completer) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.opts.Timeout
	}
	input := req.Prompt
	if c.agent != nil && req.MaxTurns > 0 {
		input = fmt.Sprintf("%s\n\nYou have at most %d tool turns for this task.", input, c.clampTurns(req.MaxTurns))
	}
	log.Debug("[%s] %s", c.name, input)
	inputMsgs := []*schema.Message{schema.UserMessage(input)}

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			log.Info("Retrying LLM call (attempt %d/%d)...", attempt+1, c.opts.Retries+1)
			// Exponential backoff: wait 1s, 2s, 4s...
			waitTime := time.Duration(1<<uint(attempt-1)) * time.Second
			if waitTime > 10*time.Second {
				waitTime = 10 * time.Second
			}
			time.Sleep(waitTime)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := c.generate(attemptCtx, inputMsgs)
		cancel()
		if err == nil {
			return out.Content, nil
		}

		lastErr = WrapCallError(err)
		kind := Classify(lastErr)
		if !kind.Retryable() {
			log.Error("[%s] non-retryable %s error: %v", c.name, kind, err)
			return "", lastErr
		}
		log.Info("[%s] retryable %s error (attempt %d/%d): %v", c.name, kind, attempt+1, c.opts.Retries+1, err)
	}

	return "", utils.WrapError(lastErr, "%s failed after %d attempts", c.name, c.opts.Retries+1)
}

// Call implements Generator with the completer's default budgets.
func (c *Completer) Call(ctx context.Context, input string) (string, error) {
	return c.Complete(ctx, CompleteRequest{Prompt: input})
}

func (c *Completer) clampTurns(n int) int {
	if n <= 0 || n > c.opts.MaxTurns {
		return c.opts.MaxTurns
	}
	return n
}

type CallbackHandler struct{}

var _ callbacks.Handler = (*CallbackHandler)(nil)

func (h CallbackHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	log.Debug("<OnStart>\n\tINFO: %+v\n</OnStart>", info)
	return ctx
}

func (h CallbackHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	log.Debug("<OnEnd>\n\tINFO %+v\n\tOUTPUT: %v\n</OnEnd>", info, output)
	return ctx
}

func (h CallbackHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Error("<OnError>\n\tINFO: %+v\n\tERROR: %v\n</OnError>", info, err)
	return ctx
}

func (h CallbackHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	return ctx
}

func (h CallbackHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	return ctx
}
