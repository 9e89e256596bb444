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
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"golang.org/x/tools/imports"
)

const (
	scaffoldModHost  = "example.com"
	scaffoldGoStmt   = "1.24"
	fallbackModPath  = scaffoldModHost + "/generated-app"
	maxModNameLength = 64
)

var modNameRE = regexp.MustCompile(`[^a-z0-9._-]+`)

// ModulePathFor derives a valid module path from a project name. Names
// that cannot be turned into a valid path fall back to a fixed one.
func ModulePathFor(projectName string) string {
	name := strings.ToLower(strings.TrimSpace(projectName))
	name = modNameRE.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-._")
	if len(name) > maxModNameLength {
		name = strings.Trim(name[:maxModNameLength], "-._")
	}
	if name == "" {
		return fallbackModPath
	}
	path := scaffoldModHost + "/" + name
	if err := module.CheckPath(path); err != nil {
		return fallbackModPath
	}
	return path
}

// GoModFile synthesizes the go.mod for a generated go-target project.
func GoModFile(modPath string) (string, error) {
	f := new(modfile.File)
	if err := f.AddModuleStmt(modPath); err != nil {
		return "", errors.Wrapf(err, "fail add module %s", modPath)
	}
	if err := f.AddGoStmt(scaffoldGoStmt); err != nil {
		return "", errors.Wrap(err, "fail add go directive")
	}
	data, err := f.Format()
	if err != nil {
		return "", errors.Wrap(err, "fail format go.mod")
	}
	return string(data), nil
}

// FormatGoSource runs an import-aware formatting pass over generated Go
// source. Callers should keep the original text when this fails: model
// output is not guaranteed to parse.
func FormatGoSource(filename, src string) (string, error) {
	out, err := imports.Process(filename, []byte(src), nil)
	if err != nil {
		return "", errors.Wrapf(err, "fail format %s", filename)
	}
	return string(out), nil
}
