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
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// ValidateName checks a pack name. Names are 1-64 characters of
// lowercase letters, digits and hyphens, and must match the pack
// file's base name.
func ValidateName(name, path string) error {
	if len(name) == 0 {
		return fmt.Errorf("pack name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("pack name must be 1-64 characters, got %d", len(name))
	}

	for _, r := range name {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) && r != '-' {
			return fmt.Errorf("pack name can only contain lowercase letters, numbers, and hyphens, got '%c'", r)
		}
	}

	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("pack name cannot start with hyphen")
	}
	if strings.HasSuffix(name, "-") {
		return fmt.Errorf("pack name cannot end with hyphen")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("pack name cannot contain consecutive hyphens")
	}

	stem := strings.TrimSuffix(filepath.Base(path), PackExt)
	if name != stem {
		return fmt.Errorf("pack name '%s' must match file name '%s'", name, stem)
	}

	return nil
}

// ValidateDescription checks the description field, 1-1024 characters.
func ValidateDescription(desc string) error {
	if len(desc) == 0 {
		return fmt.Errorf("pack description cannot be empty")
	}
	if len(desc) > 1024 {
		return fmt.Errorf("pack description must be 1-1024 characters, got %d", len(desc))
	}
	return nil
}

// ValidateRole checks that role names one of the known pipeline roles.
func ValidateRole(role string, known map[string]bool) error {
	if role == "" {
		return fmt.Errorf("pack role cannot be empty")
	}
	if !known[role] {
		names := make([]string, 0, len(known))
		for r := range known {
			names = append(names, r)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown role %q, known roles: %s", role, strings.Join(names, ", "))
	}
	return nil
}
