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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModulePathFor(t *testing.T) {
	cases := map[string]string{
		"calculator":       "example.com/calculator",
		"My Calc":          "example.com/my-calc",
		"Weather API (v2)": "example.com/weather-api-v2",
		"  spaced  ":       "example.com/spaced",
		"":                 fallbackModPath,
		"!!!":              fallbackModPath,
	}
	for in, want := range cases {
		assert.Equal(t, want, ModulePathFor(in), "input %q", in)
	}
}

func TestModulePathFor_Truncates(t *testing.T) {
	got := ModulePathFor(strings.Repeat("a", 80))
	assert.Equal(t, "example.com/"+strings.Repeat("a", maxModNameLength), got)

	// Truncation must not leave a trailing separator behind.
	got = ModulePathFor(strings.Repeat("a", maxModNameLength-1) + ".bbb")
	assert.Equal(t, "example.com/"+strings.Repeat("a", maxModNameLength-1), got)
}

func TestGoModFile(t *testing.T) {
	got, err := GoModFile("example.com/my-calc")
	require.NoError(t, err)
	assert.Equal(t, "module example.com/my-calc\n\ngo 1.24\n", got)
}

func TestFormatGoSource(t *testing.T) {
	messy := "package main\nimport \"fmt\"\nfunc main(){fmt.Println(\"hi\")}\n"
	got, err := FormatGoSource("main.go", messy)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hi\") }\n", got)
}

func TestFormatGoSource_AddsMissingImports(t *testing.T) {
	src := "package main\n\nfunc main() { fmt.Println(\"hi\") }\n"
	got, err := FormatGoSource("main.go", src)
	require.NoError(t, err)
	assert.Contains(t, got, "import \"fmt\"")
}

func TestFormatGoSource_RejectsBrokenSource(t *testing.T) {
	got, err := FormatGoSource("main.go", "func main() {")
	require.Error(t, err)
	assert.Empty(t, got)
	assert.Contains(t, err.Error(), "main.go")
}
