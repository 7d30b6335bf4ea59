// Package runlog records transfer runs in the transfer_run table and
// optionally publishes their progress over Redis pub/sub.
package runlog

import (
	"context"
	"time"
)

type Event struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	BundleID  string    `json:"bundle_id,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// NopPublisher drops every event.
func NopPublisher() Publisher { return nopPublisher{} }
