// Package queue defines message payloads exchanged over the message broker.
package queue

// ResolvedQueueName is the durable queue resolution events are sent to.
const ResolvedQueueName = "catalogue.action.resolved"

// ActionResolvedEvent is published when the authority's result log for a
// pending action has been applied.  It carries enough for audit consumers
// to record the outcome without reading the catalogue store.
type ActionResolvedEvent struct {
	ActionID      int64  `json:"action_id"`
	Kind          string `json:"kind"`
	Catalogue     string `json:"catalogue"`
	Version       string `json:"version"`
	ResultVersion string `json:"result_version"`
	Level         string `json:"level,omitempty"`
	Requester     string `json:"requester"`
	LogID         string `json:"log_id"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
	ResolvedAt    string `json:"resolved_at"`
}
