// Package protocol holds the wire-level contract shared by the relay server,
// its clients and the subnet scanner. It has no internal imports.
package protocol

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// ProductName identifies the relay family in the Server response header.
	ProductName = "LanRelay"
	// Version is advertised next to ProductName.
	Version = "1.0.0"
)

const (
	InfoPath    = "/"
	WSPath      = "/ws"
	MetricsPath = "/metrics"
)

// Error codes surfaced to callers and carried in ErrorBody.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeConnectionFailed     = "CONNECTION_FAILED"
	CodeValidationFailed     = "VALIDATION_FAILED"
)

// ValidationCloseReason is sent with close code 1008 when a client validator
// rejects a freshly upgraded connection.
const ValidationCloseReason = "client validation failed"

// ErrorBody is the JSON body of a refused upgrade request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// ServerHeader returns the value of the Server header on every response.
func ServerHeader() string {
	return fmt.Sprintf("%s/%s", ProductName, Version)
}

// WSURL builds the websocket URL of a relay listening on host:port.
func WSURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + WSPath
}
