// Package transport carries the behavior protocol over WebSocket. The server
// side fans the server's messages out to every connected client and funnels
// their requests into the server's inbox; the client side exposes a remote
// server as a local protocol.ClientEnd.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joeycumines/behaviord/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Hub is the server-side http.Handler. Run must be running for clients to
// receive anything.
type Hub struct {
	end      *protocol.ServerEnd
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
	// names replays file announcements to late joiners.
	names map[protocol.FileID]protocol.FileName
	order []protocol.FileID
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewHub returns a hub bridging end. A nil logger discards.
func NewHub(end *protocol.ServerEnd, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		end:    end,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
		names: make(map[protocol.FileID]protocol.FileName),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Run broadcasts server messages until ctx is done or the outbox closes.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		msg, err := h.end.Out.Recv(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrChannelClosed) {
				return nil
			}
			return err
		}
		data, err := protocol.Encode(msg)
		if err != nil {
			h.logger.Error("[transport] encode failed", "type", msg.MessageType(), "error", err)
			continue
		}
		h.broadcast(msg, data)
	}
}

func (h *Hub) broadcast(msg protocol.ServerMessage, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch m := msg.(type) {
	case protocol.FileName:
		if _, ok := h.names[m.File]; !ok {
			h.order = append(h.order, m.File)
		}
		h.names[m.File] = m
	case protocol.FileRemoved:
		delete(h.names, m.File)
		for i, id := range h.order {
			if id == m.File {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("[transport] client too slow, dropping message", "remote", c.ws.RemoteAddr(), "type", msg.MessageType())
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.close()
		delete(h.conns, c)
	}
}

// ServeHTTP upgrades the request and serves one client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[transport] upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	for _, id := range h.order {
		if data, err := protocol.Encode(h.names[id]); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("[transport] client connected", "remote", ws.RemoteAddr())

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(ws, c.send)
	}()

	h.readPump(ws)

	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.close()
	}
	h.mu.Unlock()
	<-done
	h.logger.Info("[transport] client disconnected", "remote", ws.RemoteAddr())
}

func (h *Hub) readPump(ws *websocket.Conn) {
	defer ws.Close()
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClient(payload)
		if err != nil {
			h.logger.Warn("[transport] discarding malformed message", "remote", ws.RemoteAddr(), "error", err)
			continue
		}
		if err := h.end.In.TrySend(msg); err != nil {
			h.logger.Warn("[transport] server inbox rejected message", "type", msg.MessageType(), "error", err)
		}
	}
}

// writePump writes queued frames until send closes or a write fails.
func writePump(ws *websocket.Conn, send <-chan []byte) {
	defer ws.Close()
	for data := range send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = ws.Close()
			for range send {
			}
			return
		}
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Remote is a client connection to a Hub.
type Remote struct {
	// End is the local view of the remote server.
	End *protocol.ClientEnd

	ws     *websocket.Conn
	wmu    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the hub at url (ws:// or wss://). size bounds each
// direction of the returned End.
func Dial(ctx context.Context, url string, size int, logger *slog.Logger) (*Remote, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	end := &protocol.ClientEnd{
		In:  protocol.NewChannel[protocol.ServerMessage](size),
		Out: protocol.NewChannel[protocol.ClientMessage](size),
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	r := &Remote{End: end, ws: ws, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		defer end.In.Close()
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			msg, err := protocol.DecodeServer(payload)
			if err != nil {
				logger.Warn("[transport] discarding malformed message", "error", err)
				continue
			}
			if err := end.In.TrySend(msg); err != nil {
				logger.Debug("[transport] client inbox rejected message", "type", msg.MessageType(), "error", err)
			}
		}
	}()
	go func() {
		for {
			msg, err := end.Out.Recv(pumpCtx)
			if err != nil {
				return
			}
			data, err := protocol.Encode(msg)
			if err != nil {
				logger.Error("[transport] encode failed", "type", msg.MessageType(), "error", err)
				continue
			}
			if err := r.write(websocket.TextMessage, data); err != nil {
				logger.Warn("[transport] write failed", "error", err)
				return
			}
		}
	}()
	return r, nil
}

// Done is closed once the connection is gone.
func (r *Remote) Done() <-chan struct{} { return r.done }

// Close disconnects and waits for the read pump to exit.
func (r *Remote) Close() error {
	r.cancel()
	err := r.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	closeErr := r.ws.Close()
	<-r.done
	r.End.Out.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return errors.Join(err, closeErr)
	}
	return closeErr
}

func (r *Remote) write(messageType int, data []byte) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	_ = r.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return r.ws.WriteMessage(messageType, data)
}
