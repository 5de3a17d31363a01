// Package server implements the behavior server: it tracks behavior files,
// answers client requests from a retry queue, starts and stops live trees,
// and pushes telemetry for bound trees every tick.
//
// The server is driven by its host, once per tick, on the same goroutine
// that ticks the behavior.World. It never blocks on clients or storage
// loads: requests that cannot complete yet are re-queued with a later ready
// time.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/protocol"
	"github.com/joeycumines/behaviord/internal/store"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultExt        = "bht.yaml"
	DefaultRetryDelay = time.Second
)

// Config configures a Server.
type Config struct {
	// Dir holds the behavior files.
	Dir string
	// Ext is the behavior file suffix, without the leading dot.
	Ext string
	// RetryDelay is how long a request that cannot complete waits before it
	// is dispatched again.
	RetryDelay time.Duration
	// ReloadInterval is how often Dir is rescanned for changes. Zero
	// disables hot reload.
	ReloadInterval time.Duration
	Logger         *slog.Logger
}

// Server owns the file trackers and the pending request queue.
type Server struct {
	world  *behavior.World
	end    *protocol.ServerEnd
	assets *Assets
	logger *slog.Logger

	retryDelay     time.Duration
	reloadInterval time.Duration
	lastReload     time.Duration

	trackers map[protocol.FileID]*FileTracker
	queue    queue
}

// New discovers the behavior files in cfg.Dir and announces each one on
// end.Out. If w has no asset source the server's cache is installed, so
// Subtree nodes load from the same directory.
func New(w *behavior.World, end *protocol.ServerEnd, cfg Config) (*Server, error) {
	if cfg.Ext == "" {
		cfg.Ext = DefaultExt
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		world:          w,
		end:            end,
		assets:         NewAssets(cfg.Dir, cfg.Ext, cfg.Logger),
		logger:         cfg.Logger,
		retryDelay:     cfg.RetryDelay,
		reloadInterval: cfg.ReloadInterval,
		trackers:       make(map[protocol.FileID]*FileTracker),
	}
	if w.Assets == nil {
		w.Assets = s.assets
	}

	names, err := s.assets.List()
	if err != nil {
		return nil, fmt.Errorf("server: discover %s: %w", cfg.Dir, err)
	}
	for _, name := range names {
		s.track(protocol.NewFileID(), name)
	}
	s.logger.Info("[server] discovered behavior files", "dir", cfg.Dir, "count", len(names))
	return s, nil
}

// Assets returns the server's document cache.
func (s *Server) Assets() *Assets { return s.assets }

// Tracker returns the tracker of id.
func (s *Server) Tracker(id protocol.FileID) (*FileTracker, bool) {
	t, ok := s.trackers[id]
	return t, ok
}

// TrackerByName returns the tracker of the file called name.
func (s *Server) TrackerByName(name string) (*FileTracker, bool) {
	for _, t := range s.trackers {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Trackers returns every tracker ordered by name.
func (s *Server) Trackers() []*FileTracker {
	out := make([]*FileTracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *FileTracker) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// Pending returns the number of queued requests.
func (s *Server) Pending() int { return s.queue.len() }

// Tick runs one server pass at host time now.
func (s *Server) Tick(now time.Duration) {
	for {
		msg, ok := s.end.In.TryRecv()
		if !ok {
			break
		}
		s.queue.push(now, msg)
	}

	var retries []protocol.ClientMessage
	for {
		p, ok := s.queue.pop(now)
		if !ok {
			break
		}
		if s.dispatch(p.msg) {
			retries = append(retries, p.msg)
		}
	}
	for _, msg := range retries {
		s.queue.push(now+s.retryDelay, msg)
	}

	s.syncDocuments()
	s.pushTelemetry()
	s.reload(now)
}

// dispatch handles one request and reports whether it must be retried.
func (s *Server) dispatch(msg protocol.ClientMessage) bool {
	switch m := msg.(type) {
	case protocol.Ping:
		s.send(protocol.Pong{})
	case protocol.ListInstances:
		if t := s.lookup(m.File); t != nil {
			s.send(protocol.Instances{File: m.File, Entities: s.instances(t)})
		}
	case protocol.ListOrphans:
		s.send(protocol.Orphans{File: m.File, Entities: s.orphans()})
	case protocol.LoadFile:
		if t := s.lookup(m.File); t != nil {
			return s.loadFile(t)
		}
	case protocol.SaveFile:
		s.saveFile(m)
	case protocol.Start:
		if t := s.lookup(m.File); t != nil {
			return s.start(t, m)
		}
	case protocol.Stop:
		if t := s.lookup(m.File); t != nil {
			s.stop(t, m.Option)
		}
	default:
		panic(fmt.Sprintf("server: unexpected client message %T", msg))
	}
	return false
}

func (s *Server) lookup(id protocol.FileID) *FileTracker {
	t, ok := s.trackers[id]
	if !ok {
		s.logger.Warn("[server] dropping request for unknown file", "file", id)
		s.report(id, protocol.LevelWarn, fmt.Sprintf("unknown file %s", id))
		return nil
	}
	return t
}

// resident returns the tracker's document, requesting a load if needed.
// ready is false while the load is in flight.
func (s *Server) resident(t *FileTracker) (doc *behavior.Document, ready bool, err error) {
	if t.Document != nil {
		return t.Document, true, nil
	}
	doc, ready, err = s.assets.Document(t.Name)
	if err != nil || !ready {
		return nil, ready, err
	}
	s.adopt(t)
	return t.Document, true, nil
}

// adopt takes the cache's current document for t.
func (s *Server) adopt(t *FileTracker) {
	if doc, version, ok := s.assets.Peek(t.Name); ok {
		t.Document, t.version = doc, version
	}
}

func (s *Server) loadFile(t *FileTracker) bool {
	doc, ready, err := s.resident(t)
	switch {
	case err != nil:
		s.logger.Error("[server] load failed", "file", t.ID, "name", t.Name, "error", err)
		s.report(t.ID, protocol.LevelError, fmt.Sprintf("load %s: %v", t.Name, err))
		return false
	case !ready:
		s.logger.Debug("[server] load pending, retrying", "file", t.ID, "name", t.Name)
		return true
	}
	s.send(protocol.FileLoaded{File: t.ID, Document: doc.Clone()})
	return false
}

func (s *Server) saveFile(m protocol.SaveFile) {
	fail := func(err error) {
		s.logger.Error("[server] save failed", "file", m.File, "name", m.Name, "error", err)
		s.report(m.File, protocol.LevelError, fmt.Sprintf("save %s: %v", m.Name, err))
	}
	if m.Document == nil {
		fail(errors.New("no document"))
		return
	}
	if err := ValidName(m.Name); err != nil {
		fail(err)
		return
	}
	t, exists := s.trackers[m.File]
	if other, ok := s.TrackerByName(m.Name); ok && other.ID != m.File {
		fail(fmt.Errorf("name %q is used by file %s", m.Name, other.ID))
		return
	}

	version, err := s.assets.Store(m.Name, m.Document)
	if err != nil {
		fail(err)
		return
	}

	if !exists {
		t = s.track(m.File, m.Name)
	} else if t.Name != m.Name {
		// The tracker and its trees follow the new name. The old file stays
		// on disk under a tracker of its own.
		old := t.Name
		for _, anchor := range s.world.Trees.IDs() {
			if tree, _ := s.world.Trees.Get(anchor); tree.Asset == old {
				tree.Asset = m.Name
			}
		}
		t.Name = m.Name
		s.send(protocol.FileName{File: t.ID, Name: t.Name})
		kept := s.track(protocol.NewFileID(), old)
		s.logger.Info("[server] file saved under a new name", "file", t.ID, "name", t.Name, "previous", kept.ID, "previous_name", old)
	}
	t.Document = m.Document.Clone()
	t.version = version
	s.refreshInstances(t)
	s.logger.Info("[server] file saved", "file", t.ID, "name", t.Name, "path", s.assets.Path(t.Name))
	s.send(protocol.FileSaved{File: t.ID})
}

func (s *Server) start(t *FileTracker, m protocol.Start) bool {
	doc := m.Document
	if doc == nil {
		var ready bool
		var err error
		doc, ready, err = s.resident(t)
		switch {
		case err != nil:
			s.logger.Error("[server] start failed", "file", t.ID, "error", err)
			s.report(t.ID, protocol.LevelError, fmt.Sprintf("start %s: %v", t.Name, err))
			return false
		case !ready:
			return true
		}
	}
	doc = doc.Clone()

	name := m.Name
	if name == "" {
		name = t.Name
	}

	var (
		binding Binding
		err     error
	)
	switch m.Option.Kind {
	case protocol.StartSpawn:
		var anchor store.ID
		anchor, err = s.world.SpawnTree(doc, t.Name)
		if err == nil {
			s.world.Names.Set(anchor, name)
			binding = Binding{Kind: Spawned, Entity: anchor}
		}
	case protocol.StartAttach, protocol.StartInsert:
		if m.Option.Entity == nil {
			err = errors.New("no entity")
			break
		}
		anchor := m.Option.Entity.ID
		if err = s.world.InsertTree(anchor, doc, t.Name); err == nil {
			if _, named := s.world.Names.Get(anchor); !named {
				s.world.Names.Set(anchor, name)
			}
			kind := Attached
			if m.Option.Kind == protocol.StartInsert {
				kind = Inserted
			}
			binding = Binding{Kind: kind, Entity: anchor}
		}
	default:
		err = fmt.Errorf("unknown start option %q", m.Option.Kind)
	}
	if err != nil {
		s.logger.Error("[server] start failed", "file", t.ID, "option", m.Option.Kind, "error", err)
		s.report(t.ID, protocol.LevelError, fmt.Sprintf("start %s: %v", t.Name, err))
		return false
	}

	if prev := t.Binding; prev.Kind == Spawned && prev.Entity != binding.Entity && s.world.Store.Alive(prev.Entity) {
		s.logger.Info("[server] despawning previous tree", "file", t.ID, "entity", prev.Entity)
		s.world.DespawnRecursive(prev.Entity)
	}
	t.Binding = binding
	s.logger.Info("[server] tree started", "file", t.ID, "name", t.Name, "binding", binding.Kind, "entity", binding.Entity)
	s.send(protocol.Started{File: t.ID, Entity: s.remote(binding.Entity)})
	return false
}

func (s *Server) stop(t *FileTracker, option protocol.StopOption) {
	b := t.Binding
	alive := b.Bound() && s.world.Store.Alive(b.Entity)
	switch option {
	case protocol.StopDespawn:
		if alive {
			if b.Kind == Attached {
				s.world.RemoveTree(b.Entity)
			} else {
				s.world.DespawnRecursive(b.Entity)
			}
		}
	case protocol.StopDetach:
	case protocol.StopRemove:
		if alive {
			s.world.OrphanTree(b.Entity)
		}
	default:
		s.logger.Error("[server] unknown stop option", "file", t.ID, "option", option)
		s.report(t.ID, protocol.LevelError, fmt.Sprintf("stop %s: unknown option %q", t.Name, option))
		return
	}
	t.Binding = Binding{}
	s.logger.Info("[server] tree stopped", "file", t.ID, "name", t.Name, "option", option, "entity", b.Entity)
	s.send(protocol.Stopped{File: t.ID})
}

// instances returns the live trees built from t's file.
func (s *Server) instances(t *FileTracker) []protocol.RemoteEntity {
	var out []protocol.RemoteEntity
	for _, anchor := range s.world.Trees.IDs() {
		if tree, _ := s.world.Trees.Get(anchor); tree.Document != nil && tree.Asset == t.Name {
			out = append(out, s.remote(anchor))
		}
	}
	return out
}

// orphans returns the live trees with no document.
func (s *Server) orphans() []protocol.RemoteEntity {
	var out []protocol.RemoteEntity
	for _, anchor := range s.world.Trees.IDs() {
		if tree, _ := s.world.Trees.Get(anchor); tree.Document == nil {
			out = append(out, s.remote(anchor))
		}
	}
	return out
}

func (s *Server) remote(id store.ID) protocol.RemoteEntity {
	name, _ := s.world.Names.Get(id)
	return protocol.RemoteEntity{ID: id, Name: name}
}

// syncDocuments adopts documents the cache reloaded and rebuilds the trees
// that run them.
func (s *Server) syncDocuments() {
	for _, t := range s.trackers {
		doc, version, ok := s.assets.Peek(t.Name)
		if !ok || version == t.version {
			continue
		}
		reload := t.Document != nil
		t.Document, t.version = doc, version
		if !reload {
			continue
		}
		s.logger.Info("[server] file reloaded", "file", t.ID, "name", t.Name, "version", version)
		s.refreshInstances(t)
		s.send(protocol.FileLoaded{File: t.ID, Document: doc.Clone()})
	}
}

// refreshInstances points every tree built from t at t's document and
// requests a reset.
func (s *Server) refreshInstances(t *FileTracker) {
	for _, anchor := range s.world.Trees.IDs() {
		tree, _ := s.world.Trees.Get(anchor)
		if tree.Document == nil || tree.Asset != t.Name {
			continue
		}
		tree.Document = t.Document.Clone()
		s.world.RequestReset(anchor)
	}
}

func (s *Server) pushTelemetry() {
	for _, t := range s.Trackers() {
		if !t.Binding.Bound() {
			continue
		}
		anchor := t.Binding.Entity
		if !s.world.Store.Alive(anchor) || !s.world.Trees.Has(anchor) {
			s.logger.Info("[server] bound tree is gone", "file", t.ID, "entity", anchor)
			t.Binding = Binding{}
			continue
		}
		snapshot, err := s.world.TreeTelemetry(anchor)
		if err != nil {
			var missing *behavior.MissingError
			if !errors.As(err, &missing) {
				s.logger.Warn("[server] telemetry failed", "file", t.ID, "error", err)
			}
			continue
		}
		if err := s.end.Out.TrySend(protocol.Telemetry{File: t.ID, Snapshot: snapshot}); err != nil {
			s.logger.Debug("[server] telemetry dropped", "file", t.ID, "error", err)
		}
	}
}

// reload collects the last directory scan and starts the next one.
func (s *Server) reload(now time.Duration) {
	if s.reloadInterval <= 0 {
		return
	}
	if names, ok := s.assets.TakeScan(); ok {
		s.applyScan(names)
	}
	if now-s.lastReload >= s.reloadInterval {
		s.lastReload = now
		s.assets.StartScan()
	}
}

func (s *Server) applyScan(names []string) {
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	for id, t := range s.trackers {
		if present[t.Name] {
			continue
		}
		s.logger.Info("[server] file removed", "file", id, "name", t.Name)
		s.assets.Forget(t.Name)
		delete(s.trackers, id)
		s.send(protocol.FileRemoved{File: id})
	}
	for _, name := range names {
		if _, ok := s.TrackerByName(name); !ok {
			t := s.track(protocol.NewFileID(), name)
			s.logger.Info("[server] file discovered", "file", t.ID, "name", name)
		}
	}
}

func (s *Server) track(id protocol.FileID, name string) *FileTracker {
	t := &FileTracker{ID: id, Name: name}
	s.trackers[id] = t
	s.send(protocol.FileName{File: id, Name: name})
	return t
}

func (s *Server) report(file protocol.FileID, level protocol.LogLevel, msg string) {
	s.send(protocol.Log{File: file, Level: level, Message: msg})
}

func (s *Server) send(msg protocol.ServerMessage) {
	if err := s.end.Out.TrySend(msg); err != nil {
		s.logger.Warn("[server] dropping message", "type", msg.MessageType(), "error", err)
	}
}
