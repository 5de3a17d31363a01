// Package client is the editor/inspector side of the behavior protocol. A
// Client sends requests without blocking and folds server messages into a
// per-file view model on Update.
package client

import (
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/protocol"
)

// File is the client's view of one tracked behavior file.
type File struct {
	ID       protocol.FileID
	Name     string
	Document *behavior.Document
	// Saved is set by FileSaved and cleared by local edits.
	Saved bool
	// Running is set between Started and Stopped.
	Running   bool
	Entity    protocol.RemoteEntity
	Instances []protocol.RemoteEntity
	Orphans   []protocol.RemoteEntity
	Telemetry *behavior.Telemetry
	// Log is the last report the server sent about this file.
	Log *protocol.Log
}

// Client tracks server state for every announced file.
type Client struct {
	end    *protocol.ClientEnd
	logger *slog.Logger

	Files map[protocol.FileID]*File
	// Logs holds reports not tied to a known file.
	Logs  []protocol.Log
	Pongs int
}

// New returns a client on end. A nil logger discards.
func New(end *protocol.ClientEnd, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{end: end, logger: logger, Files: make(map[protocol.FileID]*File)}
}

func (c *Client) send(msg protocol.ClientMessage) error {
	if err := c.end.Out.TrySend(msg); err != nil {
		c.logger.Warn("[client] request not sent", "type", msg.MessageType(), "error", err)
		return err
	}
	return nil
}

// Ping asks the server for a Pong.
func (c *Client) Ping() error { return c.send(protocol.Ping{}) }

// LoadFile requests the document of id.
func (c *Client) LoadFile(id protocol.FileID) error {
	return c.send(protocol.LoadFile{File: id})
}

// SaveFile stores doc as id under name. An empty id creates a new file.
func (c *Client) SaveFile(id protocol.FileID, name string, doc *behavior.Document) (protocol.FileID, error) {
	if id == "" {
		id = protocol.NewFileID()
	}
	return id, c.send(protocol.SaveFile{File: id, Name: name, Document: doc})
}

// Start runs id's tracked document, or doc when it is not nil.
func (c *Client) Start(id protocol.FileID, opt protocol.StartOption, doc *behavior.Document) error {
	name := ""
	if f, ok := c.Files[id]; ok {
		name = f.Name
	}
	return c.send(protocol.Start{File: id, Name: name, Option: opt, Document: doc})
}

// Stop tears down id's running tree.
func (c *Client) Stop(id protocol.FileID, opt protocol.StopOption) error {
	return c.send(protocol.Stop{File: id, Option: opt})
}

// ListInstances requests the live trees built from id.
func (c *Client) ListInstances(id protocol.FileID) error {
	return c.send(protocol.ListInstances{File: id})
}

// ListOrphans requests the live trees with no document.
func (c *Client) ListOrphans(id protocol.FileID) error {
	return c.send(protocol.ListOrphans{File: id})
}

// Update applies every buffered server message and returns how many there
// were.
func (c *Client) Update() int {
	n := 0
	for {
		msg, ok := c.end.In.TryRecv()
		if !ok {
			return n
		}
		c.Apply(msg)
		n++
	}
}

// Apply folds one server message into the view model.
func (c *Client) Apply(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.Pong:
		c.Pongs++
	case protocol.FileName:
		c.file(m.File).Name = m.Name
	case protocol.FileRemoved:
		delete(c.Files, m.File)
	case protocol.FileLoaded:
		f := c.file(m.File)
		f.Document = m.Document
		f.Saved = true
	case protocol.FileSaved:
		c.file(m.File).Saved = true
	case protocol.Instances:
		c.file(m.File).Instances = m.Entities
	case protocol.Orphans:
		c.file(m.File).Orphans = m.Entities
	case protocol.Started:
		f := c.file(m.File)
		f.Running = true
		f.Entity = m.Entity
	case protocol.Stopped:
		f := c.file(m.File)
		f.Running = false
		f.Entity = protocol.RemoteEntity{}
		f.Telemetry = nil
	case protocol.Telemetry:
		c.file(m.File).Telemetry = m.Snapshot
	case protocol.Log:
		c.logger.Debug("[client] server log", "file", m.File, "level", m.Level, "message", m.Message)
		if f, ok := c.Files[m.File]; ok {
			f.Log = &m
		} else {
			c.Logs = append(c.Logs, m)
		}
	default:
		panic("client: unexpected server message " + msg.MessageType())
	}
}

func (c *Client) file(id protocol.FileID) *File {
	f, ok := c.Files[id]
	if !ok {
		f = &File{ID: id}
		c.Files[id] = f
	}
	return f
}

// FileByName returns the file called name.
func (c *Client) FileByName(name string) (*File, bool) {
	for _, f := range c.Files {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Sorted returns the known files ordered by name.
func (c *Client) Sorted() []*File {
	out := make([]*File, 0, len(c.Files))
	for _, f := range c.Files {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *File) int { return strings.Compare(a.Name, b.Name) })
	return out
}
