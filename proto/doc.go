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

import (
	"fmt"
	"strconv"
	"strings"
)

// DocType identifies the kind of indexed document.
type DocType uint8

const (
	DocTypeNode DocType = iota + 1
	DocTypeUnindexedNode
	DocTypeErrorNode
	DocTypeAcl
	DocTypeTx
	DocTypeAclTx
	DocTypeState
)

func (t DocType) String() string {
	switch t {
	case DocTypeNode:
		return "Node"
	case DocTypeUnindexedNode:
		return "UnindexedNode"
	case DocTypeErrorNode:
		return "ErrorNode"
	case DocTypeAcl:
		return "Acl"
	case DocTypeTx:
		return "Tx"
	case DocTypeAclTx:
		return "AclTx"
	case DocTypeState:
		return "State"
	default:
		return "Invalid"
	}
}

// FTSStatus describes whether harvested full-text content is up to date.
type FTSStatus uint8

const (
	FTSNew FTSStatus = iota + 1
	FTSDirty
	FTSClean
)

func (s FTSStatus) String() string {
	switch s {
	case FTSNew:
		return "New"
	case FTSDirty:
		return "Dirty"
	case FTSClean:
		return "Clean"
	default:
		return "Invalid"
	}
}

// Int64 field names shared between document build, facet counting and
// range queries.
const (
	FieldDBID            = "DBID"
	FieldTxID            = "TXID"
	FieldTxCommitTime    = "TXCOMMITTIME"
	FieldAclID           = "ACLID"
	FieldAclTxID         = "ACLTXID"
	FieldAclTxCommitTime = "ACLTXCOMMITTIME"
	FieldCascadeFlag     = "CASCADEFLAG"
	FieldContentID       = "CONTENTID"
)

// Fixed logical keys of the singleton state markers.
const (
	TxStateDocID    = "TRACKER!STATE!TX"
	AclTxStateDocID = "TRACKER!STATE!ACLTX"
)

// Doc is one indexed document. At most one non-error live Doc exists per
// node id at any time.
type Doc struct {
	ID   string  `json:"id"`
	Type DocType `json:"type"`

	DBID            int64 `json:"dbid,omitempty"`
	TxID            int64 `json:"tx_id,omitempty"`
	TxCommitTime    int64 `json:"tx_commit_time,omitempty"`
	AclID           int64 `json:"acl_id,omitempty"`
	AclTxID         int64 `json:"acl_tx_id,omitempty"`
	AclTxCommitTime int64 `json:"acl_tx_commit_time,omitempty"`

	Tenant       string   `json:"tenant,omitempty"`
	NodeRef      string   `json:"node_ref,omitempty"`
	NodeType     string   `json:"node_type,omitempty"`
	Aspects      []string `json:"aspects,omitempty"`
	Name         string   `json:"name,omitempty"`
	Paths        []string `json:"paths,omitempty"`
	Ancestors    []string `json:"ancestors,omitempty"`
	ParentAssocs []string `json:"parent_assocs,omitempty"`
	// ParentAssocCRC detects path changes without a deep compare.
	ParentAssocCRC uint32            `json:"parent_assoc_crc,omitempty"`
	Owner          string            `json:"owner,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	Readers        []string          `json:"readers,omitempty"`
	Denied         []string          `json:"denied,omitempty"`

	FTSStatus   FTSStatus `json:"fts_status,omitempty"`
	ContentID   int64     `json:"content_id,omitempty"`
	Content     string    `json:"content,omitempty"`
	CascadeFlag int64     `json:"cascade_flag"`

	TransformStatus     string `json:"transform_status,omitempty"`
	TransformError      string `json:"transform_error,omitempty"`
	TransformDurationMs int64  `json:"transform_duration_ms,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`

	// Version is the optimistic-concurrency token of State docs.
	Version uint64 `json:"version,omitempty"`
}

// Int64Field reads a typed numeric field by name, for facet and range
// evaluation.
func (d *Doc) Int64Field(name string) (int64, bool) {
	switch name {
	case FieldDBID:
		return d.DBID, true
	case FieldTxID:
		return d.TxID, true
	case FieldTxCommitTime:
		return d.TxCommitTime, true
	case FieldAclID:
		return d.AclID, true
	case FieldAclTxID:
		return d.AclTxID, true
	case FieldAclTxCommitTime:
		return d.AclTxCommitTime, true
	case FieldCascadeFlag:
		return d.CascadeFlag, true
	case FieldContentID:
		return d.ContentID, true
	default:
		return 0, false
	}
}

// NodeDocID builds the stable composite key of a node document.
func NodeDocID(tenant string, aclID, dbID int64) string {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return tenant + "!" + strconv.FormatInt(aclID, 10) + "!" + strconv.FormatInt(dbID, 10)
}

func ErrorDocID(dbID int64) string {
	return "ERROR-" + strconv.FormatInt(dbID, 10)
}

func TxDocID(txID int64) string {
	return "TX-" + strconv.FormatInt(txID, 10)
}

func AclTxDocID(aclTxID int64) string {
	return "ACLTX-" + strconv.FormatInt(aclTxID, 10)
}

func AclDocID(tenant string, aclID int64) string {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return tenant + "!ACL!" + strconv.FormatInt(aclID, 10)
}

const DefaultTenant = "_default_"

// TenantDbID addresses one node document for content harvesting.
type TenantDbID struct {
	Tenant string `json:"tenant"`
	AclID  int64  `json:"acl_id"`
	DbID   int64  `json:"dbid"`
}

func (t TenantDbID) String() string {
	return fmt.Sprintf("%s!%d!%d", t.Tenant, t.AclID, t.DbID)
}

// SplitNodeDocID is the inverse of NodeDocID.
func SplitNodeDocID(id string) (TenantDbID, bool) {
	parts := strings.SplitN(id, "!", 3)
	if len(parts) != 3 {
		return TenantDbID{}, false
	}
	aclID, err1 := strconv.ParseInt(parts[1], 10, 64)
	dbID, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return TenantDbID{}, false
	}
	return TenantDbID{Tenant: parts[0], AclID: aclID, DbID: dbID}, true
}
