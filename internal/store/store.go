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
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/cloudwego/abgen/internal/utils"
)

const resultPrefix = "result/"

// ResultStore keeps terminal project results keyed by project id. Each id
// is written once, by the run that owns it.
type ResultStore struct {
	db *badger.DB
}

func NewResultStore(db *badger.DB) *ResultStore {
	return &ResultStore{db: db}
}

func resultKey(id string) []byte {
	return []byte(resultPrefix + id)
}

// Put stores res under its project id.
func (s *ResultStore) Put(res *ProjectResult) error {
	if res.ID == "" {
		return errors.New("project result has no id")
	}
	data, err := utils.MarshalJSONBytes(res)
	if err != nil {
		return errors.Wrapf(err, "fail marshal result %s", res.ID)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(res.ID), data)
	})
	return errors.Wrapf(err, "fail store result %s", res.ID)
}

// Get loads the result for id. A missing id is not an error; the second
// return value reports existence.
func (s *ResultStore) Get(id string) (*ProjectResult, bool, error) {
	var res ProjectResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "fail load result %s", id)
	}
	return &res, true, nil
}

// List returns stored result summaries, newest first, up to limit when
// limit is positive.
func (s *ResultStore) List(limit int) ([]ResultSummary, error) {
	var out []ResultSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resultPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var res ProjectResult
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &res)
			})
			if err != nil {
				return err
			}
			out = append(out, res.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fail list results")
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
