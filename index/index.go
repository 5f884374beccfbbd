// Copyright 2024 The IndexSync Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package index defines the contract of the underlying full-text index
// engine: a durable document store with add/delete/commit, faceted counts,
// field-typed range queries and reference-counted searcher snapshots.
package index

import (
	"context"

	"github.com/openindex/indexsync/proto"
)

// Query is the subset of search expressions the consistency engine needs.
// Zero-value members are not constrained; set members are ANDed.
type Query struct {
	// Type restricts matches to one document type.
	Type proto.DocType
	// ID matches the composite document key exactly.
	ID string
	// IntField with [Min,Max] restricts a typed numeric field, both bounds
	// inclusive. Only meaningful when IntField is non-empty.
	IntField string
	Min, Max int64
	// AncestorEq matches documents whose ancestor field contains exactly
	// this node reference.
	AncestorEq string
	// ParentEq matches documents whose parent associations contain this
	// node reference.
	ParentEq string
	// FTSAny matches documents whose FTS status is any of these.
	FTSAny []proto.FTSStatus
	// Text matches documents whose name or harvested content contains the
	// term.
	Text string
}

// Engine is the write side of the index.
type Engine interface {
	// Add stores the document, replacing any document with the same key.
	Add(ctx context.Context, doc *proto.Doc) error
	// Delete removes every document matching the query.
	Delete(ctx context.Context, q Query) error
	// Commit makes pending mutations visible to new searchers.
	Commit(ctx context.Context) error
	// Rollback discards all uncommitted mutations.
	Rollback(ctx context.Context) error
	// Searcher acquires a reference-counted snapshot of the committed
	// index. The caller must Close it.
	Searcher() (Searcher, error)
	Close()
}

// Searcher is a consistent read snapshot.
type Searcher interface {
	// Get returns the committed document with the given key, or
	// apierrors.ErrDocDoesNotExist.
	Get(id string) (*proto.Doc, error)
	// Search returns up to limit matches ordered by DBID then key.
	// limit <= 0 means no limit.
	Search(q Query, limit int) ([]*proto.Doc, error)
	Count(q Query) (int64, error)
	// FacetCounts counts documents per distinct value of the typed numeric
	// field among query matches, dropping values seen fewer than min times.
	FacetCounts(q Query, field string, min int64) (map[int64]int64, error)
	// MaxInt64/MinInt64 scan the extremes of a typed numeric field among
	// query matches; ok is false when nothing matches.
	MaxInt64(q Query, field string) (v int64, ok bool)
	MinInt64(q Query, field string) (v int64, ok bool)
	// Close releases the snapshot reference.
	Close() error
}
