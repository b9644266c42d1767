package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/phinze/serialdetect/pkg/device"
)

// CommandType represents the type of command
type CommandType string

const (
	// CommandStatus gets daemon status
	CommandStatus CommandType = "status"
	// CommandScan lists the serial ports currently attached
	CommandScan CommandType = "scan"
	// CommandListen streams device events until the client disconnects
	CommandListen CommandType = "listen"
)

// Request represents a command request from client to daemon
type Request struct {
	ID      string          `json:"id"`                // Unique request ID
	Type    CommandType     `json:"type"`              // Command type
	Payload json.RawMessage `json:"payload,omitempty"` // Command-specific payload
}

// Response represents a response from daemon to client
type Response struct {
	ID      string          `json:"id"`              // Request ID this responds to
	Success bool            `json:"success"`         // Whether command succeeded
	Error   string          `json:"error,omitempty"` // Error message if failed
	Data    json.RawMessage `json:"data,omitempty"`  // Response data if succeeded
}

// ListenRequest tunes the stream opened for a listen command.
type ListenRequest struct {
	Buffer   int    `json:"buffer,omitempty"`
	Overflow string `json:"overflow,omitempty"` // block, drop-oldest, drop-newest
	// Trace also streams the daemon's own log records.
	Trace bool `json:"trace,omitempty"`
}

// ListenResponse acknowledges a listen command. Envelopes follow on the
// same connection, one per line.
type ListenResponse struct {
	Stream string `json:"stream"`
}

// PortInfo is one attached port.
type PortInfo struct {
	Port string            `json:"port"`
	Meta device.DeviceInfo `json:"meta"`
}

// ScanResponse lists attached ports sorted by name.
type ScanResponse struct {
	Ports []PortInfo `json:"ports"`
}

// StatusResponse represents daemon status
type StatusResponse struct {
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Backend       string `json:"backend"`
	ActiveStreams int    `json:"active_streams"`
	KnownPorts    int    `json:"known_ports"`
}

// NewScanResponse converts a device scan.
func NewScanResponse(scan map[string]device.DeviceInfo) ScanResponse {
	resp := ScanResponse{Ports: make([]PortInfo, 0, len(scan))}
	for _, port := range device.Ports(scan) {
		resp.Ports = append(resp.Ports, PortInfo{Port: port, Meta: scan[port]})
	}
	return resp
}

// NewRequest builds a request with a marshalled payload.
func NewRequest(id string, typ CommandType, payload any) (*Request, error) {
	req := &Request{ID: id, Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// ParseRequest parses a JSON request
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// MarshalResponse marshals a response to JSON
func MarshalResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id string, err error) *Response {
	return &Response{
		ID:      id,
		Success: false,
		Error:   err.Error(),
	}
}

// NewSuccessResponse creates a success response with data
func NewSuccessResponse(id string, data any) (*Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	return &Response{
		ID:      id,
		Success: true,
		Data:    jsonData,
	}, nil
}
