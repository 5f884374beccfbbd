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

// Package contentstore persists the last fully-built document per
// tenant+node between the metadata phase and the content phase.
package contentstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/common/kvstore"
	"github.com/openindex/indexsync/proto"
)

const docCF = kvstore.CF("docs")

type Config struct {
	Path     string         `json:"path"`
	KVType   string         `json:"kv_type"`
	KVOption kvstore.Option `json:"kv_option"`
}

type Store struct {
	kvStore kvstore.Store
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	kvType := kvstore.LsmKVType(cfg.KVType)
	if kvType == "" {
		kvType = kvstore.RocksdbLsmKVType
	}
	cfg.KVOption.ColumnFamily = append(cfg.KVOption.ColumnFamily, docCF)

	kvStore, err := kvstore.NewKVStore(ctx, cfg.Path+"/kv", kvType, &cfg.KVOption)
	if err != nil {
		return nil, errors.Info(err, "open content store failed")
	}
	return &Store{kvStore: kvStore}, nil
}

// Get returns the cached document, or nil when none exists.
func (s *Store) Get(ctx context.Context, tenant string, dbID int64) (*proto.Doc, error) {
	data, err := s.kvStore.GetRaw(ctx, docCF, encodeDocKey(tenant, dbID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	doc := &proto.Doc{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Info(err, "unmarshal cached doc failed")
	}
	return doc, nil
}

func (s *Store) Put(ctx context.Context, tenant string, dbID int64, doc *proto.Doc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.kvStore.SetRaw(ctx, docCF, encodeDocKey(tenant, dbID), data)
}

func (s *Store) Delete(ctx context.Context, tenant string, dbID int64) error {
	return s.kvStore.Delete(ctx, docCF, encodeDocKey(tenant, dbID))
}

// DeleteTenant drops every cached document of one tenant.
func (s *Store) DeleteTenant(ctx context.Context, tenant string) error {
	prefix := encodeTenantPrefix(tenant)
	lr := s.kvStore.List(ctx, docCF, prefix, nil)
	defer lr.Close()

	batch := s.kvStore.NewWriteBatch()
	defer batch.Close()
	for {
		key, _, err := lr.ReadNextCopy()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
		batch.Delete(docCF, key)
	}
	return s.kvStore.Write(ctx, batch)
}

func (s *Store) Flush(ctx context.Context) error {
	return s.kvStore.FlushCF(ctx, docCF)
}

func (s *Store) Close() {
	s.kvStore.Close()
}

func encodeTenantPrefix(tenant string) []byte {
	if tenant == "" {
		tenant = proto.DefaultTenant
	}
	return []byte(tenant + "/")
}

func encodeDocKey(tenant string, dbID int64) []byte {
	return append(encodeTenantPrefix(tenant), []byte(strconv.FormatInt(dbID, 10))...)
}
