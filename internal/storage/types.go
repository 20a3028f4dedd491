package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run records one dispatched command. Keep it compact and schema-stable.
type Run struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Slot    string    `json:"slot"`
	Kind    string    `json:"kind"`
	Program string    `json:"program"`
	Params  string    `json:"params,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

func (r Run) OK() bool { return r.Error == "" }
