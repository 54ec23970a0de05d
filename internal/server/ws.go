package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsIdlePingInterval = 30 * time.Second

// Websocket message types. Clients send "analyze" and "stop"; the server
// answers with "info" per completed pass, then "result" or "error".
const (
	msgAnalyze = "analyze"
	msgStop    = "stop"
	msgInfo    = "info"
	msgResult  = "result"
	msgError   = "error"
	msgPing    = "ping"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// wsSession is one websocket client. At most one analysis runs at a time.
type wsSession struct {
	s    *Server
	ctx  context.Context
	send chan []byte

	mu     sync.Mutex
	cancel context.CancelFunc // of the running analysis, nil when idle
	wg     sync.WaitGroup
}

func (c *wsSession) push(typ string, payload any) {
	msg := wsMessage{Type: typ}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	select {
	case c.send <- mustMarshal(msg):
	case <-c.ctx.Done():
	}
}

func (c *wsSession) pushError(msg string) {
	c.push(msgError, map[string]string{"error": msg})
}

func (c *wsSession) start(req AnalyzeRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.pushError("analysis already running")
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		a, err := c.s.analyze(ctx, req, func(info Info) { c.push(msgInfo, info) })
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()

		if err != nil {
			c.pushError(err.Error())
			return
		}
		c.push(msgResult, a)
	}()
}

func (c *wsSession) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &wsSession{s: s, ctx: ctx, send: make(chan []byte, 16)}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := writeWSWithHeartbeat(conn, c.send); err != nil {
			s.log.Debug().Err(err).Msg("websocket write failed")
			cancel()
			conn.Close()
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case msgAnalyze:
			var req AnalyzeRequest
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &req); err != nil {
					c.pushError("invalid payload")
					continue
				}
			}
			c.start(req)
		case msgStop:
			c.stop()
		case msgPing:
		default:
			c.pushError("unknown message type " + msg.Type)
		}
	}

	cancel()
	c.wg.Wait()
	close(c.send)
	<-writeDone
}

func writeWSWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(wsIdlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	pingPayload := mustMarshal(wsMessage{Type: msgPing})

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < wsIdlePingInterval {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}
