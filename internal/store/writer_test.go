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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Write(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)

	res := sampleResult("run-1", time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC))
	res.Files["README.md"] = "# Calculator\n"

	dir, err := w.Write(res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "calculator_20250314_150926"), dir)

	data, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Calculator\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, resultFileName))
	require.NoError(t, err)
	var stored ProjectResult
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "run-1", stored.ID)

	assert.Contains(t, w.Projects(), "calculator_20250314_150926")
}

func TestWriter_ScansExistingProjects(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "old_20250101_000000"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644))

	w, err := NewWriter(root)
	require.NoError(t, err)

	got := w.Projects()
	assert.Equal(t, []string{"old_20250101_000000"}, got)
}

func TestWriter_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "projects")
	_, err := NewWriter(root)
	require.NoError(t, err)

	fi, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestSanitizeDirName(t *testing.T) {
	cases := map[string]string{
		"calculator":         "calculator",
		"My Cool App!":       "My_Cool_App",
		"weather/api client": "weather_api_client",
		"   ":                "project",
		"":                   "project",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeDirName(in), "input %q", in)
	}
}
