package proto

// IndexHealthReport aggregates one health check. Created fresh per query,
// never persisted.
type IndexHealthReport struct {
	DbTransactionCount        int64 `json:"db_transaction_count"`
	TransactionDocsInIndex    int64 `json:"transaction_docs_in_index"`
	UniqueTransactionsInIndex int64 `json:"unique_transactions_in_index"`

	TxInIndexButNotInDb []int64 `json:"tx_in_index_but_not_in_db,omitempty"`
	MissingTxFromIndex  []int64 `json:"missing_tx_from_index,omitempty"`
	DuplicatedTxInIndex []int64 `json:"duplicated_tx_in_index,omitempty"`

	DuplicatedLeafInIndex      []int64 `json:"duplicated_leaf_in_index,omitempty"`
	DuplicatedErrorInIndex     []int64 `json:"duplicated_error_in_index,omitempty"`
	DuplicatedUnindexedInIndex []int64 `json:"duplicated_unindexed_in_index,omitempty"`
}

// RangeCheckResult is the outcome of a shard DBID-range inspection.
type RangeCheckResult struct {
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
	NodeCount int64   `json:"node_count"`
	MinDbid   int64   `json:"min_dbid"`
	MaxDbid   int64   `json:"max_dbid"`
	Density   float64 `json:"density"`
	// Expand is the recommended expansion amount, 0 if premature and -1
	// if expansion cannot be done.
	Expand   int64 `json:"expand"`
	Expanded bool  `json:"expanded"`
}

// TrackerStats is the SUMMARY payload of one tracker loop.
type TrackerStats struct {
	Name            string `json:"name"`
	Cycles          int64  `json:"cycles"`
	DocsIndexed     int64  `json:"docs_indexed"`
	DocsFailed      int64  `json:"docs_failed"`
	LastCycleMillis int64  `json:"last_cycle_millis"`
}
