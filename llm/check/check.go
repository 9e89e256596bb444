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

// Package check screens generated code with tree-sitter before it goes to
// review, so obviously broken output earns feedback without spending a
// model call on it.
package check

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/cloudwego/abgen/internal/log"
)

const (
	// maxNotes bounds the findings on heavily malformed input.
	maxNotes = 50
	// maxDepth guards the walk against degenerate trees.
	maxDepth = 1000
	// contextWindow is the longest source excerpt quoted in a note.
	contextWindow = 50
)

// Syntax parses generated sources and reports ERROR and MISSING nodes as
// human-readable notes. The zero value is ready to use.
type Syntax struct{}

func NewSyntax() *Syntax {
	return &Syntax{}
}

// Validate reports whether source parses cleanly in the given language.
// Unknown languages pass with a note so the review loop never blocks on
// a grammar this build does not carry.
func (s *Syntax) Validate(ctx context.Context, language, source string) (bool, []string) {
	lang := grammar(language)
	if lang == nil {
		log.Debug("no grammar for language %q, skipping syntax check", language)
		return true, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		return false, []string{fmt.Sprintf("parse failed: %v", err)}
	}
	defer tree.Close()

	notes := collect(tree.RootNode(), []byte(source))
	return len(notes) == 0, notes
}

func grammar(language string) *sitter.Language {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "python", "py":
		return python.GetLanguage()
	case "go", "golang":
		return golang.GetLanguage()
	default:
		return nil
	}
}

func collect(root *sitter.Node, source []byte) []string {
	var notes []string
	walk(root, source, &notes, 0)
	return notes
}

func walk(node *sitter.Node, source []byte, notes *[]string, depth int) {
	if depth > maxDepth || len(*notes) >= maxNotes {
		return
	}
	if node.IsError() || node.IsMissing() {
		*notes = append(*notes, describe(node, source))
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), source, notes, depth+1)
	}
}

func describe(node *sitter.Node, source []byte) string {
	point := node.StartPoint()
	line, col := int(point.Row)+1, int(point.Column)
	if node.IsMissing() {
		return fmt.Sprintf("line %d, col %d: missing %q", line, col, node.Type())
	}

	start, end := node.StartByte(), node.EndByte()
	if end > uint32(len(source)) {
		end = uint32(len(source))
	}
	if end <= start {
		return fmt.Sprintf("line %d, col %d: syntax error", line, col)
	}
	excerpt := string(source[start:end])
	if len(excerpt) > contextWindow {
		excerpt = excerpt[:contextWindow] + "..."
	}
	return fmt.Sprintf("line %d, col %d: unexpected %q", line, col, excerpt)
}
