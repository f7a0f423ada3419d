package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeJobEnqueued is sent when a file is accepted into the queue
	EventTypeJobEnqueued EventType = "job_enqueued"
	// EventTypeBatchSkipped is sent when files of a batch were rejected
	EventTypeBatchSkipped EventType = "batch_skipped"
	// EventTypeJobProgress carries extraction progress for the active job
	EventTypeJobProgress EventType = "job_progress"
	// EventTypeJobCompleted is sent when a job is archived
	EventTypeJobCompleted EventType = "job_completed"
	// EventTypeJobFailed is sent when a job ends in error
	EventTypeJobFailed EventType = "job_failed"
	// EventTypeBatchCompleted is sent when the queue has been drained
	EventTypeBatchCompleted EventType = "batch_completed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	JobID     string      `json:"job_id,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows the events a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
	JobIDs []string    `json:"job_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
