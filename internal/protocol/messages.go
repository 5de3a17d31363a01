package protocol

import "github.com/joeycumines/behaviord/internal/behavior"

// ClientMessage is a request sent from a client to the server.
type ClientMessage interface {
	// MessageType is the wire tag.
	MessageType() string
	clientMessage()
}

// ServerMessage is a reply or event sent from the server to clients.
type ServerMessage interface {
	MessageType() string
	serverMessage()
}

// Client → server.
type (
	// Ping asks the server for a Pong.
	Ping struct{}

	// ListInstances asks for the live trees built from File.
	ListInstances struct {
		File FileID `json:"file"`
	}

	// ListOrphans asks for the live trees without a document.
	ListOrphans struct {
		File FileID `json:"file"`
	}

	// LoadFile asks for the document of File.
	LoadFile struct {
		File FileID `json:"file"`
	}

	// SaveFile stores Document as File, renaming the tracker to Name.
	SaveFile struct {
		File     FileID             `json:"file"`
		Name     string             `json:"name"`
		Document *behavior.Document `json:"document"`
	}

	// Start runs Document (or the tracked document when nil) using Option.
	Start struct {
		File     FileID             `json:"file"`
		Name     string             `json:"name"`
		Option   StartOption        `json:"option"`
		Document *behavior.Document `json:"document,omitempty"`
	}

	// Stop tears down the tree bound to File using Option.
	Stop struct {
		File   FileID     `json:"file"`
		Option StopOption `json:"option"`
	}
)

// Server → client.
type (
	// Pong answers Ping.
	Pong struct{}

	// FileName announces a tracked file, on discovery and after renames.
	FileName struct {
		File FileID `json:"file"`
		Name string `json:"name"`
	}

	// FileRemoved reports that a tracked file disappeared from storage.
	FileRemoved struct {
		File FileID `json:"file"`
	}

	// FileLoaded carries the document of a tracked file.
	FileLoaded struct {
		File     FileID             `json:"file"`
		Document *behavior.Document `json:"document"`
	}

	// FileSaved acknowledges SaveFile.
	FileSaved struct {
		File FileID `json:"file"`
	}

	// Instances answers ListInstances.
	Instances struct {
		File     FileID         `json:"file"`
		Entities []RemoteEntity `json:"entities"`
	}

	// Orphans answers ListOrphans.
	Orphans struct {
		File     FileID         `json:"file"`
		Entities []RemoteEntity `json:"entities"`
	}

	// Started acknowledges Start.
	Started struct {
		File   FileID       `json:"file"`
		Entity RemoteEntity `json:"entity"`
	}

	// Stopped acknowledges Stop.
	Stopped struct {
		File FileID `json:"file"`
	}

	// Telemetry is the per-tick snapshot of the tree bound to File.
	Telemetry struct {
		File     FileID              `json:"file"`
		Snapshot *behavior.Telemetry `json:"snapshot"`
	}

	// Log reports a failed request or other condition worth showing.
	Log struct {
		File    FileID   `json:"file,omitempty"`
		Level   LogLevel `json:"level"`
		Message string   `json:"message"`
	}
)

func (Ping) MessageType() string          { return "Ping" }
func (ListInstances) MessageType() string { return "ListInstances" }
func (ListOrphans) MessageType() string   { return "ListOrphans" }
func (LoadFile) MessageType() string      { return "LoadFile" }
func (SaveFile) MessageType() string      { return "SaveFile" }
func (Start) MessageType() string         { return "Start" }
func (Stop) MessageType() string          { return "Stop" }

func (Ping) clientMessage()          {}
func (ListInstances) clientMessage() {}
func (ListOrphans) clientMessage()   {}
func (LoadFile) clientMessage()      {}
func (SaveFile) clientMessage()      {}
func (Start) clientMessage()         {}
func (Stop) clientMessage()          {}

func (Pong) MessageType() string        { return "Pong" }
func (FileName) MessageType() string    { return "FileName" }
func (FileRemoved) MessageType() string { return "FileRemoved" }
func (FileLoaded) MessageType() string  { return "FileLoaded" }
func (FileSaved) MessageType() string   { return "FileSaved" }
func (Instances) MessageType() string   { return "Instances" }
func (Orphans) MessageType() string     { return "Orphans" }
func (Started) MessageType() string     { return "Started" }
func (Stopped) MessageType() string     { return "Stopped" }
func (Telemetry) MessageType() string   { return "Telemetry" }
func (Log) MessageType() string         { return "Log" }

func (Pong) serverMessage()        {}
func (FileName) serverMessage()    {}
func (FileRemoved) serverMessage() {}
func (FileLoaded) serverMessage()  {}
func (FileSaved) serverMessage()   {}
func (Instances) serverMessage()   {}
func (Orphans) serverMessage()     {}
func (Started) serverMessage()     {}
func (Stopped) serverMessage()     {}
func (Telemetry) serverMessage()   {}
func (Log) serverMessage()         {}
