package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 256
)

// link is one live transport. A Client owns at most one link at a time; all
// writes go through the link's write pump so frames leave in queue order.
type link struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	log  *zap.Logger

	// drain asks the write pump to flush the queue and exit; drained is
	// closed once it has.
	drain     chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
	closeOnce sync.Once
}

func newLink(conn *websocket.Conn, log *zap.Logger) *link {
	l := &link{
		conn: conn,
		send:    make(chan Message, sendQueueSize),
		done:    make(chan struct{}),
		log:     log,
		drain:   make(chan struct{}),
		drained: make(chan struct{}),
	}
	go l.writePump()
	return l
}

func (l *link) enqueue(m Message) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}

	select {
	case l.send <- m:
		return nil
	case <-l.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

func (l *link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case m := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(frameType(m.Kind), m.Data); err != nil {
				l.log.Debug("write failed", zap.Error(err))
				l.close()
				return
			}

		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.close()
				return
			}

		case <-l.drain:
			l.flush()
			close(l.drained)
			return

		case <-l.done:
			return
		}
	}
}

// flush writes whatever is still queued. It stops at the first failed write.
func (l *link) flush() {
	for {
		select {
		case m := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(frameType(m.Kind), m.Data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump hands every data frame to handle until the transport fails.
func (l *link) readPump(handle func(Message)) error {
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch typ {
		case websocket.TextMessage:
			handle(Message{Kind: TextMessage, Data: data})
		case websocket.BinaryMessage:
			handle(Message{Kind: BinaryMessage, Data: data})
		}
	}
}

// shutdown flushes frames queued before the call, sends a close frame with
// code and reason, then drops the transport. The flush is bounded by
// writeWait.
func (l *link) shutdown(code int, reason string) error {
	select {
	case <-l.done:
		return nil
	default:
	}

	l.drainOnce.Do(func() { close(l.drain) })
	timer := time.NewTimer(writeWait)
	select {
	case <-l.drained:
	case <-l.done:
	case <-timer.C:
	}
	timer.Stop()

	msg := websocket.FormatCloseMessage(code, reason)
	err := l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	l.close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func frameType(k Kind) int {
	if k == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func closeCode(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}
