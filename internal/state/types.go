package state

import "time"

// #region active-record
// ActiveRecord is one row of the active_configurations table.
type ActiveRecord struct {
	ChannelID       string
	ConfigurationID string
	UpdatedAt       time.Time
}

// #endregion active-record

// #region retention
// PruneResult reports rows removed by Prune.
type PruneResult struct {
	Observations int64
	Snapshots    int64
}

// #endregion retention
