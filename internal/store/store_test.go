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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewResultStore(db)
}

func sampleResult(id string, created time.Time) *ProjectResult {
	return &ProjectResult{
		ID:             id,
		ProjectName:    "calculator",
		Prompt:         "build a calculator",
		Language:       "python",
		Status:         "completed",
		CompletedSteps: []string{"requirements_analysis", "code_generation"},
		FailedSteps:    []string{},
		Warnings:       []string{},
		Files:          map[string]string{"main.py": "print('hi')\n"},
		Percentage:     100,
		Iterations:     2,
		Quality:        0.8,
		CreatedAt:      created,
	}
}

func TestResultStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	want := sampleResult("run-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, s.Put(want))

	got, ok, err := s.Get("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ProjectName, got.ProjectName)
	assert.Equal(t, want.Files, got.Files)
	assert.Equal(t, want.Percentage, got.Percentage)
	assert.Equal(t, want.Iterations, got.Iterations)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestResultStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	got, ok, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestResultStore_PutWithoutID(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(&ProjectResult{})
	require.Error(t, err)
}

func TestResultStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)
	res := sampleResult("run-1", time.Now())
	require.NoError(t, s.Put(res))

	res.Percentage = 95
	require.NoError(t, s.Put(res))

	got, ok, err := s.Get("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 95.0, got.Percentage)
}

func TestResultStore_List(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		res := sampleResult(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Put(res))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	// Newest first.
	assert.Equal(t, "run-4", all[0].ID)
	assert.Equal(t, "run-0", all[4].ID)

	top, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "run-4", top[0].ID)
	assert.Equal(t, "run-3", top[1].ID)
}

func TestResultStore_ListEmpty(t *testing.T) {
	s := newTestStore(t)
	all, err := s.List(10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOpen_PersistentRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	s := NewResultStore(db)
	require.NoError(t, s.Put(sampleResult("run-1", time.Now())))
	require.NoError(t, db.Close())

	// Reopen and verify the result survived.
	db2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db2.Close()

	_, ok, err := NewResultStore(db2).Get("run-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
