package proto

// TrackerState holds the watermarks a tracker resumes from. Owned by the
// tracker, read and advanced through the engine's accessors.
type TrackerState struct {
	LastIndexedTxID                int64 `json:"last_indexed_tx_id"`
	LastIndexedTxCommitTime        int64 `json:"last_indexed_tx_commit_time"`
	LastIndexedChangeSetID         int64 `json:"last_indexed_change_set_id"`
	LastIndexedChangeSetCommitTime int64 `json:"last_indexed_change_set_commit_time"`

	// Hole-retention adjusted watermarks below which no undetected gaps
	// can exist.
	LastGoodTxCommitTime        int64 `json:"last_good_tx_commit_time"`
	LastGoodChangeSetCommitTime int64 `json:"last_good_change_set_commit_time"`

	TimeBeforeWhichThereCanBeNoHoles int64 `json:"time_before_which_there_can_be_no_holes"`

	TrackerStartTime     int64 `json:"tracker_start_time"`
	LastTrackerStartTime int64 `json:"last_tracker_start_time"`
}
