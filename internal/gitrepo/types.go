package gitrepo

import "time"

// Status summarizes a clone's working tree relative to its upstream.
type Status string

const (
	StatusClean   Status = "clean"
	StatusDirty   Status = "dirty"
	StatusAhead   Status = "ahead"
	StatusBehind  Status = "behind"
	StatusUnknown Status = "unknown"
)

// RepositoryInfo describes one cloned script repository. Credentials are
// never part of it.
type RepositoryInfo struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Path         string     `json:"path"`
	Branch       string     `json:"branch"`
	Status       Status     `json:"status"`
	Ahead        int        `json:"ahead"`
	Behind       int        `json:"behind"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// CloneRequest contains parameters for cloning a repository. Token is used
// for the clone only and is never stored.
type CloneRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
	Depth  int    `json:"depth,omitempty"`
	Token  string `json:"-"`
}

// StatusReport is the result of a local status check.
type StatusReport struct {
	Status Status `json:"status"`
	Ahead  int    `json:"ahead"`
	Behind int    `json:"behind"`
}
