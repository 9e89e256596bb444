// Copyright 2025 ByteDance Inc.
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

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/loop"
	"github.com/cloudwego/abgen/internal/progress"
	"github.com/cloudwego/abgen/internal/runner"
	"github.com/cloudwego/abgen/internal/store"
	"github.com/cloudwego/abgen/version"
)

// GenerateRequest is the body of POST /api/v1/projects.
type GenerateRequest struct {
	Prompt        string  `json:"prompt" binding:"required"`
	ProjectName   string  `json:"project_name"`
	Language      string  `json:"language"`
	Threshold     float64 `json:"threshold"`
	MaxIterations int     `json:"max_iterations"`
}

// GenerateResponse acknowledges an accepted generation run.
type GenerateResponse struct {
	ProjectID   string `json:"project_id"`
	Status      string `json:"status"`
	ProgressURL string `json:"progress_url"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
}

// HistoryResponse lists stored run summaries, newest first.
type HistoryResponse struct {
	Projects []store.ResultSummary `json:"projects"`
	Count    int                   `json:"count"`
}

// LogsResponse carries recent log lines of a live run.
type LogsResponse struct {
	ProjectID string          `json:"project_id"`
	Logs      []loop.LogEntry `json:"logs"`
	Count     int             `json:"count"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handlers serves the generation API over a runner, a progress projection
// and the result store.
type Handlers struct {
	runner  *runner.Runner
	view    *progress.Projection
	results *store.ResultStore
}

func NewHandlers(r *runner.Runner, view *progress.Projection, results *store.ResultStore) *Handlers {
	return &Handlers{runner: r, view: view, results: results}
}

// RegisterRoutes registers the generation endpoints on g:
//
//	POST /projects            start a run
//	GET  /projects            stored run history
//	GET  /projects/:id/status live or recovered progress report
//	GET  /projects/:id/logs   recent log lines of a live run
//	GET  /projects/:id/result terminal result
//	POST /projects/:id/cancel cancel a live run
func RegisterRoutes(g *gin.RouterGroup, h *Handlers) {
	g.POST("/projects", h.HandleGenerate)
	g.GET("/projects", h.HandleHistory)
	g.GET("/projects/:id/status", h.HandleStatus)
	g.GET("/projects/:id/logs", h.HandleLogs)
	g.GET("/projects/:id/result", h.HandleResult)
	g.POST("/projects/:id/cancel", h.HandleCancel)
}

// HandleGenerate starts a pipeline run in the background and answers 202
// with the run id before any step executes.
func (h *Handlers) HandleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "prompt must not be empty", Code: "invalid_request"})
		return
	}

	id, err := h.runner.StartRun(runner.StartRequest{
		Prompt:      req.Prompt,
		ProjectName: req.ProjectName,
		Language:    req.Language,
		Loop: loop.Config{
			ConvergenceThreshold: req.Threshold,
			MaxIterations:        req.MaxIterations,
		},
	})
	if err != nil {
		if errors.Is(err, runner.ErrPoolClosed) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "shutting_down"})
			return
		}
		log.Error("start run: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "start_failed"})
		return
	}

	log.Info("accepted run %s", id)
	c.JSON(http.StatusAccepted, GenerateResponse{
		ProjectID:   id,
		Status:      "started",
		ProgressURL: "/api/v1/projects/" + id + "/status",
	})
}

// HandleStatus reports progress for live runs and recovers terminal
// reports from the store after a restart.
func (h *Handlers) HandleStatus(c *gin.Context) {
	rep := h.view.Status(c.Param("id"))
	if rep.Status == progress.StatusNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found", Code: "not_found"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleLogs returns the most recent log lines of a live run. Logs are
// kept in memory only, so finished runs answer 404 here.
func (h *Handlers) HandleLogs(c *gin.Context) {
	id := c.Param("id")
	limit, ok := intQuery(c, "limit", 50)
	if !ok {
		return
	}
	if _, live := h.runner.Registry().LiveState(id); !live {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no live run with that id", Code: "not_found"})
		return
	}
	logs := h.view.Logs(id, limit)
	if logs == nil {
		logs = []loop.LogEntry{}
	}
	c.JSON(http.StatusOK, LogsResponse{ProjectID: id, Logs: logs, Count: len(logs)})
}

// HandleResult returns the terminal result of a run: 409 while the run is
// still live, 404 when the id is unknown.
func (h *Handlers) HandleResult(c *gin.Context) {
	id := c.Param("id")
	res, ok, err := h.results.Get(id)
	if err != nil {
		log.Error("get result %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "store_error"})
		return
	}
	if ok {
		c.JSON(http.StatusOK, res)
		return
	}
	if _, live := h.runner.Registry().LiveState(id); live {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "project is still running", Code: "still_running"})
		return
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "project result not found", Code: "not_found"})
}

// HandleCancel requests cancellation of a live run.
func (h *Handlers) HandleCancel(c *gin.Context) {
	id := c.Param("id")
	if !h.runner.Cancel(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found or not running", Code: "not_found"})
		return
	}
	log.Info("cancelling run %s", id)
	c.JSON(http.StatusAccepted, CancelResponse{ProjectID: id, Message: "cancellation requested"})
}

// HandleHistory lists stored run summaries, newest first.
func (h *Handlers) HandleHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	sums, err := h.results.List(limit)
	if err != nil {
		log.Error("list results: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "store_error"})
		return
	}
	if sums == nil {
		sums = []store.ResultSummary{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Projects: sums, Count: len(sums)})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: name + " must be a non-negative integer", Code: "invalid_request"})
		return 0, false
	}
	return n, true
}
