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

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/log"
	"github.com/cloudwego/abgen/internal/utils"
)

const resultFileName = "project_results.json"

var (
	dirNameRE       = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	underscoreRunRE = regexp.MustCompile(`_+`)
)

// Writer lays finished projects out on disk, one directory per run, and
// keeps an index of the directories currently present. The index follows
// external changes (a user deleting old projects) through an fs watcher.
type Writer struct {
	root string

	mu    sync.RWMutex
	index map[string]struct{}
}

func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "fail create projects dir %s", root)
	}
	w := &Writer{root: root, index: make(map[string]struct{})}
	if err := w.scan(); err != nil {
		return nil, err
	}
	if err := utils.WatchDir(root, w.onEvent); err != nil {
		log.Warn("projects dir watch disabled: %v", err)
	}
	return w, nil
}

func (w *Writer) Root() string {
	return w.root
}

// Write persists the project's files plus the full result record under
// <root>/<project-name>_<timestamp>/ and returns the directory.
func (w *Writer) Write(res *ProjectResult) (string, error) {
	stamp := res.CreatedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := fmt.Sprintf("%s_%s", sanitizeDirName(res.ProjectName), stamp.Format("20060102_150405"))
	dir := filepath.Join(w.root, name)

	names := make([]string, 0, len(res.Files))
	for f := range res.Files {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		if err := utils.MustWriteFile(filepath.Join(dir, f), []byte(res.Files[f])); err != nil {
			return "", err
		}
	}
	meta, err := utils.MarshalJSONIndent(res)
	if err != nil {
		return "", errors.Wrapf(err, "fail marshal result %s", res.ID)
	}
	if err := utils.MustWriteFile(filepath.Join(dir, resultFileName), []byte(meta)); err != nil {
		return "", err
	}

	w.mu.Lock()
	w.index[name] = struct{}{}
	w.mu.Unlock()
	log.Info("project results saved to %s", dir)
	return dir, nil
}

// Projects returns the project directories currently on disk, sorted.
func (w *Writer) Projects() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.index))
	for name := range w.index {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (w *Writer) scan() error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return errors.Wrapf(err, "fail scan projects dir %s", w.root)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() {
			w.index[e.Name()] = struct{}{}
		}
	}
	return nil
}

func (w *Writer) onEvent(op fsnotify.Op, file string) {
	name := filepath.Base(file)
	switch {
	case op&fsnotify.Create != 0:
		fi, err := os.Stat(file)
		if err != nil || !fi.IsDir() {
			return
		}
		w.mu.Lock()
		w.index[name] = struct{}{}
		w.mu.Unlock()
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.index, name)
		w.mu.Unlock()
	}
}

func sanitizeDirName(name string) string {
	s := dirNameRE.ReplaceAllString(name, "_")
	s = underscoreRunRE.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	if s == "" {
		return "project"
	}
	return s
}
