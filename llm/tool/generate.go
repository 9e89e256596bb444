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

package tool

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/progress"
	"github.com/cloudwego/abgen/internal/runner"
	"github.com/cloudwego/abgen/internal/store"
	abutil "github.com/cloudwego/abgen/internal/utils"
)

// Tool is the common currency between the agent layer and the MCP
// surface.
type Tool = tool.BaseTool

const (
	ToolStartGeneration     = "start_generation"
	DescStartGeneration     = "start a code generation run from a natural language prompt, returns the project id immediately while the pipeline runs in the background"
	ToolGetGenerationStatus = "get_generation_status"
	DescGetGenerationStatus = "get the progress report of a generation run, including per-step state and the review loop detail"
	ToolGetGenerationResult = "get_generation_result"
	DescGetGenerationResult = "get the terminal result of a finished generation run, including all generated files"
	ToolListGenerations     = "list_generations"
	DescListGenerations     = "list stored generation runs, newest first"
	ToolCancelGeneration    = "cancel_generation"
	DescCancelGeneration    = "cancel a running generation by project id"
)

var (
	SchemaStartGeneration     = GetJSONSchema(StartGenerationReq{})
	SchemaGetGenerationStatus = GetJSONSchema(GetGenerationStatusReq{})
	SchemaGetGenerationResult = GetJSONSchema(GetGenerationResultReq{})
	SchemaListGenerations     = GetJSONSchema(ListGenerationsReq{})
	SchemaCancelGeneration    = GetJSONSchema(CancelGenerationReq{})
)

// GetJSONSchema reflects v into a flat schema for raw-schema tool
// registration.
func GetJSONSchema(v any) json.RawMessage {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	bs, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(err)
	}
	return bs
}

type GenerationToolsOptions struct {
	Runner  *runner.Runner
	View    *progress.Projection
	Results *store.ResultStore
}

// GenerationTools exposes the pipeline as a tool set, for the MCP server
// and for tool-calling agents alike.
type GenerationTools struct {
	opts  GenerationToolsOptions
	tools map[string]tool.InvokableTool
}

func NewGenerationTools(opts GenerationToolsOptions) *GenerationTools {
	ret := &GenerationTools{
		opts:  opts,
		tools: map[string]tool.InvokableTool{},
	}

	tt, err := utils.InferTool(ToolStartGeneration,
		DescStartGeneration,
		ret.StartGeneration, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolStartGeneration] = tt

	tt, err = utils.InferTool(ToolGetGenerationStatus,
		DescGetGenerationStatus,
		ret.GetGenerationStatus, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolGetGenerationStatus] = tt

	tt, err = utils.InferTool(ToolGetGenerationResult,
		DescGetGenerationResult,
		ret.GetGenerationResult, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolGetGenerationResult] = tt

	tt, err = utils.InferTool(ToolListGenerations,
		DescListGenerations,
		ret.ListGenerations, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolListGenerations] = tt

	tt, err = utils.InferTool(ToolCancelGeneration,
		DescCancelGeneration,
		ret.CancelGeneration, utils.WithMarshalOutput(func(ctx context.Context, output interface{}) (string, error) {
			return abutil.MarshalJSONIndent(output)
		}))
	if err != nil {
		panic(err)
	}
	ret.tools[ToolCancelGeneration] = tt

	return ret
}

func (t *GenerationTools) GetTools() []Tool {
	ret := make([]Tool, 0, len(t.tools))
	for _, tt := range t.tools {
		ret = append(ret, tt)
	}
	return ret
}

func (t *GenerationTools) GetTool(name string) Tool {
	return t.tools[name]
}

type StartGenerationReq struct {
	Prompt        string  `json:"prompt" jsonschema:"description=natural language description of the software to build"`
	ProjectName   string  `json:"project_name,omitempty" jsonschema:"description=optional project name; a timestamped one is generated when empty"`
	Language      string  `json:"language,omitempty" jsonschema:"description=target language of the generated code (python or go),default=python"`
	Threshold     float64 `json:"threshold,omitempty" jsonschema:"description=review convergence threshold between 0 and 1"`
	MaxIterations int     `json:"max_iterations,omitempty" jsonschema:"description=review loop iteration cap"`
}

type StartGenerationResp struct {
	ProjectID string `json:"project_id" jsonschema:"description=the id of the accepted run; poll get_generation_status with it"`
	Status    string `json:"status"`
}

func (t *GenerationTools) StartGeneration(ctx context.Context, req StartGenerationReq) (*StartGenerationResp, error) {
	id, err := t.opts.Runner.StartRun(runner.StartRequest{
		Prompt:      req.Prompt,
		ProjectName: req.ProjectName,
		Language:    req.Language,
		Loop: loop.Config{
			ConvergenceThreshold: req.Threshold,
			MaxIterations:        req.MaxIterations,
		},
	})
	if err != nil {
		return nil, err
	}
	return &StartGenerationResp{ProjectID: id, Status: "started"}, nil
}

type GetGenerationStatusReq struct {
	ProjectID string `json:"project_id" jsonschema:"description=the id returned by start_generation"`
}

func (t *GenerationTools) GetGenerationStatus(ctx context.Context, req GetGenerationStatusReq) (*progress.Report, error) {
	rep := t.opts.View.Status(req.ProjectID)
	if rep.Status == progress.StatusNotFound {
		return nil, errors.Errorf("no run with id %q", req.ProjectID)
	}
	return &rep, nil
}

type GetGenerationResultReq struct {
	ProjectID string `json:"project_id" jsonschema:"description=the id returned by start_generation"`
}

func (t *GenerationTools) GetGenerationResult(ctx context.Context, req GetGenerationResultReq) (*store.ProjectResult, error) {
	res, ok, err := t.opts.Results.Get(req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, live := t.opts.Runner.Registry().LiveState(req.ProjectID); live {
			return nil, errors.Errorf("run %s is still in progress", req.ProjectID)
		}
		return nil, errors.Errorf("no result for id %q", req.ProjectID)
	}
	return res, nil
}

type ListGenerationsReq struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=maximum number of runs to return,default=10"`
}

type ListGenerationsResp struct {
	Projects []store.ResultSummary `json:"projects"`
}

func (t *GenerationTools) ListGenerations(ctx context.Context, req ListGenerationsReq) (*ListGenerationsResp, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	sums, err := t.opts.Results.List(limit)
	if err != nil {
		return nil, err
	}
	return &ListGenerationsResp{Projects: sums}, nil
}

type CancelGenerationReq struct {
	ProjectID string `json:"project_id" jsonschema:"description=the id of the run to cancel"`
}

type CancelGenerationResp struct {
	ProjectID string `json:"project_id"`
	Cancelled bool   `json:"cancelled"`
}

func (t *GenerationTools) CancelGeneration(ctx context.Context, req CancelGenerationReq) (*CancelGenerationResp, error) {
	if !t.opts.Runner.Cancel(req.ProjectID) {
		return nil, errors.Errorf("no live run with id %q", req.ProjectID)
	}
	return &CancelGenerationResp{ProjectID: req.ProjectID, Cancelled: true}, nil
}
