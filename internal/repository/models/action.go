// Package models contains data structures used by the audit repository layer.
package models

import "time"

// Action is one administrative change made through the dashboard.
type Action struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Affected  int64     `json:"affected"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ActionStats struct {
	Action   string `json:"action"`
	Count    int    `json:"count"`
	Failures int    `json:"failures"`
	Affected int64  `json:"affected"`
}
