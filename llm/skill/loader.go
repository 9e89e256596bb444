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

package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// PackExt is the file extension pack files carry.
	PackExt = ".md"

	frontMatterDelimiter = "---"
)

// Loader parses pack files and checks their role bindings against the
// known role names.
type Loader struct {
	roles map[string]bool
}

// NewLoader builds a loader that accepts the given role names.
func NewLoader(roles []string) *Loader {
	m := make(map[string]bool, len(roles))
	for _, r := range roles {
		m[r] = true
	}
	return &Loader{roles: m}
}

// LoadFile loads a single pack file.
func (l *Loader) LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack file %s: %w", path, err)
	}
	return l.Parse(data, path)
}

// LoadDir loads every pack file in dir. Subdirectories and files
// without the .md extension are skipped; a broken pack fails the
// whole load.
func (l *Loader) LoadDir(dir string) ([]*Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack directory %s: %w", dir, err)
	}

	byRole := make(map[string]string)
	var packs []*Pack
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), PackExt) {
			continue
		}
		p, err := l.LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if prev, ok := byRole[p.Role]; ok {
			return nil, fmt.Errorf("packs %s and %s both target role %s", prev, e.Name(), p.Role)
		}
		byRole[p.Role] = e.Name()
		packs = append(packs, p)
	}
	return packs, nil
}

// Parse parses pack content. path names the source in errors and pins
// the expected pack name.
func (l *Loader) Parse(data []byte, path string) (*Pack, error) {
	frontmatter, instructions, err := extractFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var meta struct {
		Name        string            `yaml:"name"`
		Role        string            `yaml:"role"`
		Description string            `yaml:"description"`
		Metadata    map[string]string `yaml:"metadata"`
	}
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, fmt.Errorf("%s: failed to parse YAML frontmatter: %w", path, err)
	}

	if err := ValidateName(meta.Name, path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ValidateDescription(meta.Description); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ValidateRole(meta.Role, l.roles); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return nil, fmt.Errorf("%s: pack has no instructions", path)
	}

	return &Pack{
		Name:         meta.Name,
		Role:         meta.Role,
		Description:  meta.Description,
		Metadata:     meta.Metadata,
		Instructions: instructions,
		Path:         path,
	}, nil
}

// extractFrontmatter splits a pack file into its YAML frontmatter and
// the markdown body.
func extractFrontmatter(content string) (frontmatter, body string, err error) {
	content = strings.TrimSpace(content)
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelimiter {
		return "", content, fmt.Errorf("no frontmatter found (expected %q on the first line)", frontMatterDelimiter)
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelimiter {
			frontmatter = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return frontmatter, strings.TrimSpace(body), nil
		}
	}
	return "", content, fmt.Errorf("frontmatter not closed")
}
