package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is the JSON wire form of every message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode returns the wire form of a client or server message.
func Encode(msg interface{ MessageType() string }) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(envelope{Type: msg.MessageType(), Payload: payload})
}

var clientMessages = map[string]func() ClientMessage{
	"Ping":          func() ClientMessage { return &Ping{} },
	"ListInstances": func() ClientMessage { return &ListInstances{} },
	"ListOrphans":   func() ClientMessage { return &ListOrphans{} },
	"LoadFile":      func() ClientMessage { return &LoadFile{} },
	"SaveFile":      func() ClientMessage { return &SaveFile{} },
	"Start":         func() ClientMessage { return &Start{} },
	"Stop":          func() ClientMessage { return &Stop{} },
}

var serverMessages = map[string]func() ServerMessage{
	"Pong":        func() ServerMessage { return &Pong{} },
	"FileName":    func() ServerMessage { return &FileName{} },
	"FileRemoved": func() ServerMessage { return &FileRemoved{} },
	"FileLoaded":  func() ServerMessage { return &FileLoaded{} },
	"FileSaved":   func() ServerMessage { return &FileSaved{} },
	"Instances":   func() ServerMessage { return &Instances{} },
	"Orphans":     func() ServerMessage { return &Orphans{} },
	"Started":     func() ServerMessage { return &Started{} },
	"Stopped":     func() ServerMessage { return &Stopped{} },
	"Telemetry":   func() ServerMessage { return &Telemetry{} },
	"Log":         func() ServerMessage { return &Log{} },
}

// DecodeClient parses a client message. The result is a value, not a
// pointer, matching what senders put on a Channel.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	ctor, ok := clientMessages[env.Type]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown client message %q", env.Type)
	}
	msg := ctor()
	if err := unmarshalPayload(env, msg); err != nil {
		return nil, err
	}
	return derefClient(msg), nil
}

// DecodeServer parses a server message.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	ctor, ok := serverMessages[env.Type]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown server message %q", env.Type)
	}
	msg := ctor()
	if err := unmarshalPayload(env, msg); err != nil {
		return nil, err
	}
	return derefServer(msg), nil
}

func unmarshalPayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", env.Type, err)
	}
	return nil
}

func derefClient(msg ClientMessage) ClientMessage {
	switch m := msg.(type) {
	case *Ping:
		return *m
	case *ListInstances:
		return *m
	case *ListOrphans:
		return *m
	case *LoadFile:
		return *m
	case *SaveFile:
		return *m
	case *Start:
		return *m
	case *Stop:
		return *m
	}
	return msg
}

func derefServer(msg ServerMessage) ServerMessage {
	switch m := msg.(type) {
	case *Pong:
		return *m
	case *FileName:
		return *m
	case *FileRemoved:
		return *m
	case *FileLoaded:
		return *m
	case *FileSaved:
		return *m
	case *Instances:
		return *m
	case *Orphans:
		return *m
	case *Started:
		return *m
	case *Stopped:
		return *m
	case *Telemetry:
		return *m
	case *Log:
		return *m
	}
	return msg
}
