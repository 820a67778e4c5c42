package api

import (
	"github.com/skobkin/gcu-sentinel/internal/dashboard"
	"github.com/skobkin/gcu-sentinel/internal/gateway"
	"github.com/skobkin/gcu-sentinel/internal/stream"
	"github.com/skobkin/gcu-sentinel/internal/units"
)

// Server to client message types.
const (
	TypeHello     = "hello"
	TypeTelemetry = "telemetry"
	TypeStatus    = "status"
	TypeStream    = "stream"
	TypePong      = "pong"
	TypeError     = "error"
)

// Client to server message types.
const (
	TypeSubscribe = "subscribe"
	TypePing      = "ping"
)

// Turbine identifies the installation being monitored.
type Turbine struct {
	Number int `json:"turbine_number"`
	ParkID int `json:"park_id"`
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type             string          `json:"type"`
	Units            []units.Info    `json:"units"`
	WarningThreshold float64         `json:"warning_threshold"`
	Turbine          Turbine         `json:"turbine"`
	Features         map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(list []units.Info, threshold float64, turbine Turbine, features map[string]bool) HelloMessage {
	if list == nil {
		list = []units.Info{}
	}
	return HelloMessage{
		Type:             TypeHello,
		Units:            list,
		WarningThreshold: threshold,
		Turbine:          turbine,
		Features:         features,
	}
}

// TelemetryMessage wraps a rendered view. The image travels base64-encoded
// as a PNG so a browser can use it as an image source directly.
type TelemetryMessage struct {
	Type string `json:"type"`
	dashboard.View
	Image []byte `json:"image_png,omitempty"`
}

// NewTelemetryMessage constructs a telemetry payload.
func NewTelemetryMessage(view dashboard.View) TelemetryMessage {
	return TelemetryMessage{
		Type:  TypeTelemetry,
		View:  view,
		Image: view.PNG,
	}
}

// StatusMessage carries a backend poll result.
type StatusMessage struct {
	Type string `json:"type"`
	gateway.Status
}

// NewStatusMessage constructs a status payload.
func NewStatusMessage(status gateway.Status) StatusMessage {
	return StatusMessage{
		Type:   TypeStatus,
		Status: status,
	}
}

// StreamMessage reports upstream connectivity.
type StreamMessage struct {
	Type string `json:"type"`
	stream.Status
}

// NewStreamMessage constructs a stream payload.
func NewStreamMessage(status stream.Status) StreamMessage {
	return StreamMessage{
		Type:   TypeStream,
		Status: status,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// SubscribeMessage narrows telemetry to a single unit. A zero or missing
// unit_id subscribes to every unit.
type SubscribeMessage struct {
	Type   string `json:"type"`
	UnitID uint8  `json:"unit_id"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
