package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport is the production Transport: a thin JSON-RPC-over-
// websocket client grounded in the subscribe/response envelope and
// Ping request shapes documented alongside github.com/Peersyst/xrpl-go
// (see DESIGN.md for why this package speaks the wire protocol
// directly instead of importing xrpl-go itself).
type WSTransport struct {
	conn   *websocket.Conn
	nextID int64
}

// DialWebsocket is the Dialer used in production.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("streaming: dial %s: %w", url, err)
	}
	return &WSTransport{conn: conn}, nil
}

type subscribeRequest struct {
	ID       int64    `json:"id"`
	Command  string   `json:"command"`
	Streams  []string `json:"streams,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

func (w *WSTransport) Subscribe(ctx context.Context, streams []string, accounts []string) error {
	req := subscribeRequest{
		ID:       atomic.AddInt64(&w.nextID, 1),
		Command:  "subscribe",
		Streams:  streams,
		Accounts: accounts,
	}
	return w.send(req)
}

type pingRequest struct {
	ID      int64  `json:"id"`
	Command string `json:"command"`
}

func (w *WSTransport) Ping(ctx context.Context) error {
	return w.send(pingRequest{ID: atomic.AddInt64(&w.nextID, 1), Command: "ping"})
}

func (w *WSTransport) send(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("streaming: marshal request: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, raw)
}

func (w *WSTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("streaming: read frame: %w", err)
	}
	return data, nil
}

func (w *WSTransport) Close() error {
	return w.conn.Close()
}
