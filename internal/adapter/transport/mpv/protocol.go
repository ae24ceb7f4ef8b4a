// Package mpv implements the Transport interface against an out-of-process
// mpv instance reached over its JSON IPC socket.
//
// The protocol is line-delimited JSON in both directions. Commands carry a
// request_id echoed by the matching response; everything without a
// request_id is an unsolicited event (observed property changes, end-file,
// start-file, idle).
package mpv

import (
	"encoding/json"
)

// request is one command sent to mpv.
type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is one line received from mpv. Responses carry RequestID and
// Error; events carry Event plus event-specific fields. Data is left raw
// because its type depends on the command or observed property.
type message struct {
	RequestID int64           `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	Event  string `json:"event,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// mpv reports command success as the literal error string "success".
const statusSuccess = "success"

// Observed property IDs registered at startup.
const (
	observeTimePos     = 1
	observePlaylistPos = 2
)

// Event and property names used by the engine.
const (
	eventPropertyChange = "property-change"
	eventEndFile        = "end-file"
	eventStartFile      = "start-file"
	eventIdle           = "idle"

	propTimePos     = "time-pos"
	propPlaylistPos = "playlist-pos"

	reasonEOF   = "eof"
	reasonError = "error"
)
