package events

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeSSE renders a frame in server-sent-events wire format:
//
//	event: <name>
//	data: <json payload>
//
// followed by a blank line.
func EncodeSSE(frame Frame) ([]byte, error) {
	data, err := json.Marshal(frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode sse payload: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", frame.Event, data)), nil
}

// WriteSSE encodes a frame and writes it to w, flushing if w supports it.
func WriteSSE(w io.Writer, frame Frame) error {
	encoded, err := EncodeSSE(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	if flusher, ok := w.(interface{ Flush() }); ok {
		flusher.Flush()
	}
	return nil
}
