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

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// Artifact kinds produced by the standard pipeline.
const (
	ArtifactRequirements  = "requirements"
	ArtifactCode          = "code"
	ArtifactReview        = "review"
	ArtifactDocumentation = "documentation"
	ArtifactTests         = "tests"
	ArtifactDeployment    = "deployment"
	ArtifactUI            = "ui"
)

// Artifact is an immutable product of one pipeline step. Each step output
// produces a new Artifact; the hash identifies the exact text a later
// step consumed.
type Artifact struct {
	Kind string `json:"kind"`
	Hash string `json:"hash"`
	Text string `json:"text"`
}

// NewArtifact creates an artifact and fingerprints its text.
func NewArtifact(kind, text string) Artifact {
	h := sha256.Sum256([]byte(text))
	return Artifact{
		Kind: kind,
		Hash: hex.EncodeToString(h[:]),
		Text: text,
	}
}
