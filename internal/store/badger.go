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

// Package store persists finished project results in an embedded Badger
// database and writes the generated files to the projects directory.
package store

import (
	"fmt"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
)

// Config holds the settings for the embedded database.
type Config struct {
	Path       string // directory for database files, ignored when InMemory
	InMemory   bool
	SyncWrites bool
}

// DefaultConfig returns the persistent on-disk configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a disk-free configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes Badger's internal logging through our logger.
// Badger is chatty at info level, so everything below error is demoted.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{})   { blog(log.Error, f, args...) }
func (badgerLogger) Warningf(f string, args ...interface{}) { blog(log.Warn, f, args...) }
func (badgerLogger) Infof(f string, args ...interface{})    { blog(log.Debug, f, args...) }
func (badgerLogger) Debugf(f string, args ...interface{})   { blog(log.Debug, f, args...) }

func blog(emit func(string, ...interface{}), f string, args ...interface{}) {
	emit("badger: %s", strings.TrimRight(fmt.Sprintf(f, args...), "\n"))
}

// Open opens the database described by cfg, creating the directory for a
// persistent store when needed. The caller owns the returned handle.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: path required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, errors.Wrapf(err, "fail create store dir %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "fail open result store")
	}
	return db, nil
}
