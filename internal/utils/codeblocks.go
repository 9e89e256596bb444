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

package utils

import (
	"regexp"
	"strings"
)

var codeFenceRE = regexp.MustCompile("(?s)```([a-zA-Z0-9_+./-]*)[ \t]*\r?\n(.*?)```")

// CodeBlock is one fenced code block from a model response.
type CodeBlock struct {
	Lang   string
	Source string
}

// ExtractCodeBlocks returns every fenced code block in text, in order.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := codeFenceRE.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Lang:   strings.ToLower(strings.TrimSpace(m[1])),
			Source: strings.TrimRight(m[2], "\n") + "\n",
		})
	}
	return blocks
}

// FirstCodeBlock returns the first fenced block matching lang, or the
// first block of any language when lang is empty. Responses that carry no
// fence at all are returned as-is so bare-code replies still work.
func FirstCodeBlock(text, lang string) (string, bool) {
	blocks := ExtractCodeBlocks(text)
	for _, b := range blocks {
		if lang == "" || b.Lang == lang {
			return b.Source, true
		}
	}
	if len(blocks) > 0 {
		return blocks[0].Source, true
	}
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, false
}
