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

// Package skill loads role prompt packs. A pack is a markdown file
// whose YAML frontmatter binds it to one pipeline role; the markdown
// body replaces that role's built-in system prompt, so a team can
// reshape an agent without rebuilding the binary.
package skill

// Pack is one loaded prompt pack.
type Pack struct {
	Name        string // matches the pack file's base name
	Role        string // pipeline role the instructions apply to
	Description string

	// Metadata carries free-form key/value pairs from the frontmatter.
	Metadata map[string]string

	// Instructions is the markdown body, used verbatim as the role's
	// system prompt.
	Instructions string

	Path string // source file
}

// Overrides flattens packs into the role to prompt map the agent
// builder consumes.
func Overrides(packs []*Pack) map[string]string {
	if len(packs) == 0 {
		return nil
	}
	m := make(map[string]string, len(packs))
	for _, p := range packs {
		m[p.Role] = p.Instructions
	}
	return m
}
