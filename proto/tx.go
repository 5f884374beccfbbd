package proto

// Transaction is a unit of repository change grouping node updates.
type Transaction struct {
	ID         int64 `json:"id"`
	CommitTime int64 `json:"commit_time"`
	Updates    int64 `json:"updates"`
	Deletes    int64 `json:"deletes"`
}

// AclChangeSet is a unit of repository change grouping ACL updates.
type AclChangeSet struct {
	ID         int64 `json:"id"`
	CommitTime int64 `json:"commit_time"`
	AclCount   int64 `json:"acl_count"`
}

type Acl struct {
	ID          int64  `json:"id"`
	ChangeSetID int64  `json:"change_set_id"`
	Tenant      string `json:"tenant"`
}

type AclReaders struct {
	AclID   int64    `json:"acl_id"`
	Readers []string `json:"readers"`
	Denied  []string `json:"denied"`
	Tenant  string   `json:"tenant"`
}
