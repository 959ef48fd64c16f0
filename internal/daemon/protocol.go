package daemon

import (
	"fmt"
	"time"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing     = "ping"
	MethodStatus   = "status"
	MethodWatch    = "watch"
	MethodUnwatch  = "unwatch"
	MethodRecent   = "recent"
	MethodShutdown = "shutdown"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeAlreadyWatching = -32001
	ErrCodeNotWatching     = -32002
	ErrCodeWatchFailed     = -32003
	ErrCodeServerClosed    = -32004
)

// DefaultRecentLimit is used when a recent request carries no limit.
const DefaultRecentLimit = 20

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
// Data carries the amanwatch error code when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// PathParams are the parameters for the watch and unwatch methods.
type PathParams struct {
	// Path is the directory to watch or stop watching (required).
	Path string `json:"path"`
}

// Validate checks that required fields are present.
func (p *PathParams) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// RecentParams are the parameters for the recent method.
type RecentParams struct {
	// Limit is the maximum number of changes (default: 20).
	Limit int `json:"limit,omitempty"`
}

// Validate corrects a missing or negative limit to the default.
func (p *RecentParams) Validate() error {
	if p.Limit <= 0 {
		p.Limit = DefaultRecentLimit
	}
	return nil
}

// RecentChange is the latest change seen for one path.
type RecentChange struct {
	Path string    `json:"path"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running         bool     `json:"running"`
	PID             int      `json:"pid"`
	Uptime          string   `json:"uptime"`
	Watching        []string `json:"watching"`
	WatchesStarted  uint64   `json:"watches_started"`
	WatchesFinished uint64   `json:"watches_finished"`
	EventsDelivered uint64   `json:"events_delivered"`
	Overflows       uint64   `json:"overflows"`
	EventsAddr      string   `json:"events_addr,omitempty"`
	Subscribers     int      `json:"subscribers"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// PathResult acknowledges a watch or unwatch request.
type PathResult struct {
	Path string `json:"path"`
}
