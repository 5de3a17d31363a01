package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileID(t *testing.T) {
	t.Parallel()

	seen := make(map[FileID]bool)
	for range 100 {
		id := NewFileID()
		assert.Len(t, string(id), 8)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestChannel_NeverBlocks(t *testing.T) {
	t.Parallel()

	c := NewChannel[int](2)
	require.NoError(t, c.TrySend(1))
	require.NoError(t, c.TrySend(2))
	require.ErrorIs(t, c.TrySend(3), ErrChannelFull)
	assert.Equal(t, 2, c.Len())

	v, ok := c.TryRecv()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Close()
	require.ErrorIs(t, c.TrySend(4), ErrChannelClosed)
	v, ok = c.TryRecv()
	require.True(t, ok, "buffered messages survive close")
	assert.Equal(t, 2, v)
	_, ok = c.TryRecv()
	assert.False(t, ok)

	_, err := c.Recv(context.Background())
	require.ErrorIs(t, err, ErrChannelClosed)
	c.Close()
}

func TestChannel_RecvContext(t *testing.T) {
	t.Parallel()

	c := NewChannel[string](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	c := NewChannel[int](1000)
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = c.TrySend(p*100 + i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, c.Len())
}

func TestNewPair(t *testing.T) {
	t.Parallel()

	server, client := NewPair(4)
	require.NoError(t, client.Out.TrySend(Ping{}))
	msg, ok := server.In.TryRecv()
	require.True(t, ok)
	assert.Equal(t, Ping{}, msg)

	require.NoError(t, server.Out.TrySend(Pong{}))
	reply, ok := client.In.TryRecv()
	require.True(t, ok)
	assert.Equal(t, Pong{}, reply)
}

func TestWire_ClientMessages(t *testing.T) {
	t.Parallel()

	doc := &behavior.Document{Root: behavior.NewBehavior("root", &behavior.Sequence{},
		behavior.NewBehavior("say", &behavior.Debug{Message: "hi"}),
	)}
	for _, msg := range []ClientMessage{
		Ping{},
		LoadFile{File: "abc"},
		Start{File: "abc", Name: "patrol", Option: Attach(RemoteEntity{ID: 7, Name: "npc"})},
		Stop{File: "abc", Option: StopRemove},
	} {
		data, err := Encode(msg)
		require.NoError(t, err)
		got, err := DecodeClient(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}

	data, err := Encode(SaveFile{File: "abc", Name: "patrol", Document: doc})
	require.NoError(t, err)
	got, err := DecodeClient(data)
	require.NoError(t, err)
	save, ok := got.(SaveFile)
	require.True(t, ok)
	assert.Equal(t, FileID("abc"), save.File)
	assert.True(t, behavior.Equal(doc, save.Document))
}

func TestWire_ServerMessages(t *testing.T) {
	t.Parallel()

	for _, msg := range []ServerMessage{
		Pong{},
		FileName{File: "abc", Name: "patrol"},
		Instances{File: "abc", Entities: []RemoteEntity{{ID: 3, Name: "patrol"}}},
		Started{File: "abc", Entity: RemoteEntity{ID: 3}},
		Log{File: "abc", Level: LevelError, Message: "boom"},
	} {
		data, err := Encode(msg)
		require.NoError(t, err)
		got, err := DecodeServer(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}

	_, err := DecodeServer([]byte(`{"type":"Bogus"}`))
	require.Error(t, err)
	_, err = DecodeClient([]byte(`not json`))
	require.Error(t, err)
}
