/*
 *
 * Copyright 2024 The IndexSync Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# IndexSync: keeping a search index consistent with its repository

## What it does

IndexSync tails the transactional log of a content repository and keeps a
full-text index shard in sync with it: node metadata, access-control
reader sets, harvested text content and the hierarchy (path/ancestor)
fields of every indexed document.

## Data Model

* Node, the repository item, addressed by a monotonically growing DBID

* Transaction, a batch of node events with a commit timestamp

* ACL change-set, the access-control analogue of a transaction

* Doc, the indexed document; one live non-error document per node

* State markers, singleton documents recording the highest transaction
  and change-set confirmed indexed

## Architecture

A single process per index shard:

* Trackers - periodic loops for metadata, ACLs, content and cascades

* Engine - per-node locking, document construction, commit/rollback
  gating and the freshness caches

* Router - the contiguous DBID range owned by the shard, with one-shot
  safe expansion

* Content store - rocksdb cache of fully-built documents between the
  metadata phase and the content phase

The admin surface is RESTful.

## Building Blocks

* Rocksdb
* Roaring bitmaps
* Prometheus

*/

package indexsync
