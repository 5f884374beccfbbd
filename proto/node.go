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

package proto

// NodeStatus is the lifecycle status carried by a repository node event.
type NodeStatus uint8

const (
	NodeStatusUnknown NodeStatus = iota
	NodeStatusUpdated
	NodeStatusDeleted
	NodeStatusShardUpdated
	NodeStatusShardDeleted
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatusUpdated:
		return "updated"
	case NodeStatusDeleted:
		return "deleted"
	case NodeStatusShardUpdated:
		return "shard_updated"
	case NodeStatusShardDeleted:
		return "shard_deleted"
	default:
		return "unknown"
	}
}

// Node is a single repository node event. Produced by the repository,
// consumed once, never mutated by the engine.
type Node struct {
	ID     int64      `json:"id"`
	TxID   int64      `json:"tx_id"`
	AclID  int64      `json:"acl_id"`
	Tenant string     `json:"tenant"`
	Status NodeStatus `json:"status"`
}

// NodeMetaData is the full node payload fetched on demand from the
// repository. The engine derives index fields from it but does not own it.
type NodeMetaData struct {
	ID           int64             `json:"id"`
	NodeRef      string            `json:"node_ref"`
	TxID         int64             `json:"tx_id"`
	AclID        int64             `json:"acl_id"`
	Tenant       string            `json:"tenant"`
	Type         string            `json:"type"`
	Aspects      []string          `json:"aspects"`
	Properties   map[string]string `json:"properties"`
	Paths        []string          `json:"paths"`
	Name         string            `json:"name"`
	Ancestors    []string          `json:"ancestors"`
	ParentAssocs []string          `json:"parent_assocs"`
	Owner        string            `json:"owner"`
	ContentID    int64             `json:"content_id"`
	IsIndexed    bool              `json:"is_indexed"`
	// CascadeToken is non-zero when the node type carries a cascade marker
	// on its parent-association chain.
	CascadeToken int64 `json:"cascade_token"`
}
