package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/protocol"
	"github.com/joeycumines/behaviord/internal/server"
	"github.com/joeycumines/behaviord/internal/store"
)

func patrol() *behavior.Document {
	return &behavior.Document{Root: behavior.NewBehavior("root", &behavior.Sequence{},
		behavior.NewBehavior("look", &behavior.Debug{Message: "look"}),
		behavior.NewBehavior("walk", &behavior.Debug{Message: "walk", Repeat: 2}),
	)}
}

// session runs a world, a server and a client in lock-step.
type session struct {
	t      *testing.T
	world  *behavior.World
	server *server.Server
	client *Client
}

func newSession(t *testing.T) *session {
	t.Helper()
	dir := t.TempDir()
	data, err := behavior.Encode(patrol())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol."+server.DefaultExt), data, 0644))

	w := behavior.NewWorld()
	serverEnd, clientEnd := protocol.NewPair(64)
	s, err := server.New(w, serverEnd, server.Config{Dir: dir, RetryDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(s.Assets().Wait)
	return &session{t: t, world: w, server: s, client: New(clientEnd, nil)}
}

func (s *session) step() {
	s.world.Elapsed += 100 * time.Millisecond
	s.world.Tick()
	s.server.Tick(s.world.Elapsed)
	s.server.Assets().Wait()
	s.client.Update()
}

func (s *session) until(cond func() bool) {
	s.t.Helper()
	for range 50 {
		if cond() {
			return
		}
		s.step()
	}
	s.t.Fatal("condition never held")
}

func TestClient_Session(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.client.Ping())
	s.step()
	assert.Equal(t, 1, s.client.Pongs)

	f, ok := s.client.FileByName("patrol")
	require.True(t, ok)
	require.NoError(t, s.client.LoadFile(f.ID))
	s.until(func() bool { return f.Document != nil })
	assert.True(t, behavior.Equal(patrol(), f.Document))

	require.NoError(t, s.client.Start(f.ID, protocol.Spawn(), nil))
	s.until(func() bool { return f.Running })
	assert.NotEqual(t, store.None, f.Entity.ID)
	assert.Equal(t, "patrol", f.Entity.Name)

	s.until(func() bool { return f.Telemetry != nil })
	assert.Equal(t, "root", f.Telemetry.Name)

	require.NoError(t, s.client.ListInstances(f.ID))
	s.until(func() bool { return len(f.Instances) == 1 })
	assert.Equal(t, f.Entity, f.Instances[0])

	require.NoError(t, s.client.Stop(f.ID, protocol.StopRemove))
	s.until(func() bool { return !f.Running })
	assert.Nil(t, f.Telemetry)

	require.NoError(t, s.client.ListOrphans(f.ID))
	s.until(func() bool { return len(f.Orphans) == 1 })
}

func TestClient_SaveNewFile(t *testing.T) {
	s := newSession(t)
	s.client.Update()

	id, err := s.client.SaveFile("", "sentry", patrol())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	s.step()

	f, ok := s.client.Files[id]
	require.True(t, ok)
	assert.Equal(t, "sentry", f.Name)
	assert.True(t, f.Saved)

	names := make([]string, 0, 2)
	for _, f := range s.client.Sorted() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"patrol", "sentry"}, names)
}

func TestClient_Logs(t *testing.T) {
	s := newSession(t)
	s.client.Update()
	f, _ := s.client.FileByName("patrol")

	require.NoError(t, s.client.LoadFile("nope"))
	_, err := s.client.SaveFile(f.ID, "../bad", patrol())
	require.NoError(t, err)
	s.step()

	require.Len(t, s.client.Logs, 1)
	assert.Equal(t, protocol.FileID("nope"), s.client.Logs[0].File)
	require.NotNil(t, f.Log)
	assert.Equal(t, protocol.LevelError, f.Log.Level)
}

func TestClient_FileRemoved(t *testing.T) {
	end := &protocol.ClientEnd{
		In:  protocol.NewChannel[protocol.ServerMessage](4),
		Out: protocol.NewChannel[protocol.ClientMessage](4),
	}
	c := New(end, nil)
	require.NoError(t, end.In.TrySend(protocol.FileName{File: "a", Name: "alpha"}))
	require.NoError(t, end.In.TrySend(protocol.FileRemoved{File: "a"}))
	assert.Equal(t, 2, c.Update())
	assert.Empty(t, c.Files)
}

func TestClient_SendFailsWhenFull(t *testing.T) {
	end := &protocol.ClientEnd{
		In:  protocol.NewChannel[protocol.ServerMessage](1),
		Out: protocol.NewChannel[protocol.ClientMessage](1),
	}
	c := New(end, nil)
	require.NoError(t, c.Ping())
	require.ErrorIs(t, c.Ping(), protocol.ErrChannelFull)
}

func TestRender(t *testing.T) {
	w := behavior.NewWorld()
	anchor, err := w.SpawnTree(patrol(), "patrol")
	require.NoError(t, err)
	w.Tick()
	snapshot, err := w.TreeTelemetry(anchor)
	require.NoError(t, err)

	plain := Render(snapshot, nil)
	lines := strings.Split(strings.TrimSuffix(plain, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "➡ root (Sequence) "))
	assert.True(t, strings.HasPrefix(lines[1], "  👁 look (Debug) "))
	assert.True(t, strings.HasPrefix(lines[2], "  👁 walk (Debug) none"))

	styles := DefaultStyles()
	styled := Render(snapshot, &styles)
	assert.Contains(t, styled, "root")
	assert.Contains(t, styled, "walk")

	assert.Empty(t, Render(nil, nil))
}
