package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// sendInitialState pushes the catch-up payload to a fresh connection.
// A client reconnecting with last_seq gets the envelopes it missed;
// otherwise it gets a fresh initial_chart_data snapshot.
func (c *Client) sendInitialState(lastSeq int64) {
	if lastSeq > 0 {
		missed := c.hub.replayBuf.Since(lastSeq)
		if len(missed) > 0 {
			for _, env := range missed {
				select {
				case c.send <- env:
				default:
				}
			}
			return
		}
		// Gap exceeds the buffer; fall through to a full snapshot.
	}

	if c.hub.Initial == nil {
		return
	}
	update, err := c.hub.Initial()
	if err != nil {
		log.Printf("[gateway] initial payload failed: %v", err)
		return
	}
	envelope, err := json.Marshal(update)
	if err != nil {
		return
	}
	select {
	case c.send <- envelope:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into a single
			// frame with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type          string `json:"type"`
			TransactionID string `json:"transaction_id"`
			Version       int    `json:"version"`
			Ping          int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "recreation_ack":
			c.hub.resolveAck(base.TransactionID, base.Version)

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}
