// Package cdc streams row changes out of PostgreSQL logical replication and
// fans them out to per-table subscribers. The engine owns the replication
// connection; the publisher owns subscriber lifecycles and backpressure.
package cdc

import (
	"time"

	"github.com/jackc/pglogrepl"
)

// Operation labels one change event
type Operation string

const (
	OpInsert    Operation = "INSERT"
	OpUpdate    Operation = "UPDATE"
	OpDelete    Operation = "DELETE"
	OpHeartbeat Operation = "HEARTBEAT"
	OpError     Operation = "ERROR"
)

// Event is one change delivered to subscribers. Data carries the new row
// image for inserts and updates; Old carries the previous image when the
// table's replica identity provides one. Error is set only on ERROR events.
type Event struct {
	Schema    string
	Table     string
	Operation Operation
	Timestamp time.Time
	LSN       pglogrepl.LSN
	Data      map[string]interface{}
	Old       map[string]interface{}
	Error     string
}

// Payload shapes the event for the GraphQL change event type
func (e Event) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"schema":    e.Schema,
		"table":     e.Table,
		"operation": string(e.Operation),
		"timestamp": e.Timestamp,
		"lsn":       e.LSN.String(),
	}
	if e.Data != nil {
		payload["data"] = e.Data
	}
	if e.Old != nil {
		payload["old"] = e.Old
	}
	if e.Error != "" {
		payload["error"] = e.Error
	}
	return payload
}
