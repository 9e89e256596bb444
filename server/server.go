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

// Package server exposes the generation pipeline over HTTP. Runs are
// started asynchronously and observed through the progress projection;
// terminal results come from the badger-backed store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/progress"
	"github.com/cloudwego/abgen/internal/runner"
	"github.com/cloudwego/abgen/internal/store"
)

const (
	// DefaultAddr is where Serve listens when Options.Addr is empty.
	DefaultAddr = ":8000"

	shutdownTimeout = 10 * time.Second
)

// Options configures Serve.
type Options struct {
	Addr    string
	Runner  *runner.Runner
	View    *progress.Projection
	Results *store.ResultStore
	Debug   bool
}

// Router builds the engine with all routes registered.
func Router(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", healthz)
	v1 := router.Group("/api/v1")
	RegisterRoutes(v1, h)
	return router
}

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests and waits for queued pipeline runs to finish.
func Serve(ctx context.Context, opts Options) error {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	h := NewHandlers(opts.Runner, opts.View, opts.Results)
	srv := &http.Server{Addr: addr, Handler: Router(h)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http api listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down http api")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			return errors.Wrap(err, "http shutdown")
		}
		return opts.Runner.Shutdown(stopCtx)
	})
	return g.Wait()
}
