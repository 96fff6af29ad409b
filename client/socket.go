package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/snappy-realtime/pkg/model"
)

var ErrDisconnected = errors.New("not connected to gateway")

const (
	writeWait  = 10 * time.Second
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Socket is the real-time connection. It redials after a drop and performs
// setup on every connection, since the gateway keeps nothing across one.
type Socket struct {
	url    string
	header http.Header
	user   string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSocket(url, token, user string, log *slog.Logger) *Socket {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	return &Socket{
		url:    url,
		header: header,
		user:   user,
		dialer: websocket.DefaultDialer,
		log:    log.With("component", "socket"),
	}
}

// Emit writes ev to the current connection. It is safe for concurrent use.
func (s *Socket) Emit(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrDisconnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// Run keeps a connection up until ctx is done, passing every event to
// deliver. reconnected runs after each connection but the first.
func (s *Socket) Run(ctx context.Context, deliver func(context.Context, model.Event), reconnected func()) {
	backoff := minBackoff
	first := true
	for ctx.Err() == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			s.log.Warn("dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		s.setConn(conn)
		if err := s.Emit(model.MustEvent(model.EventSetup, model.SetupPayload{UserID: s.user})); err != nil {
			s.log.Warn("setup failed", "error", err)
		}
		if !first && reconnected != nil {
			reconnected()
		}
		first = false

		s.read(ctx, conn, deliver)
		s.setConn(nil)
	}
}

func (s *Socket) read(ctx context.Context, conn *websocket.Conn, deliver func(context.Context, model.Event)) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("connection lost", "error", err)
			}
			return
		}
		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		deliver(ctx, ev)
	}
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Close says goodbye on the current connection.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
