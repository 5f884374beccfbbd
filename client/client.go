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

// Package client talks to the authoritative content repository: the
// transactional log, ACL change-sets, node metadata and text content.
package client

import (
	"context"

	"github.com/openindex/indexsync/proto"
)

// Repository is the contract the trackers and the engine consume. The
// repository is the source of truth; everything here is read-only.
type Repository interface {
	// Transactions returns transactions committed at or after
	// fromCommitTime with id >= minTxID, capped at maxResults.
	Transactions(ctx context.Context, fromCommitTime, minTxID int64, maxResults int) ([]*proto.Transaction, error)
	// Nodes returns the node events of the given transactions.
	Nodes(ctx context.Context, txIDs []int64, maxResults int) ([]*proto.Node, error)
	NodeMetaData(ctx context.Context, dbID int64) (*proto.NodeMetaData, error)
	AclChangeSets(ctx context.Context, fromCommitTime, minID int64, maxResults int) ([]*proto.AclChangeSet, error)
	Acls(ctx context.Context, changeSetIDs []int64) ([]*proto.Acl, error)
	AclReaders(ctx context.Context, aclIDs []int64) ([]*proto.AclReaders, error)
	// TextContent fetches the transformed text of one node's content
	// property.
	TextContent(ctx context.Context, dbID, contentID int64) (string, error)
}
