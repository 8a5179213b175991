package ws

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/session"
)

// receive runs one inbound frame through validation and fan-out, then
// publishes it on the aggregate stream.
func (s *Server) receive(from *session.Client, m session.Message) {
	if v := s.cfg.MessageValidator; v != nil && !s.validateMessage(v, from, m) {
		s.metrics.drop(dropInvalid)
		return
	}
	s.fanout(from, m)
	s.publishMessage(Inbound{From: from, Message: m})
}

// fanout delivers m to every admitted session, skipping the sender unless
// the server echoes.
func (s *Server) fanout(from *session.Client, m session.Message) {
	for _, c := range s.clients.All() {
		if c == from && !s.cfg.Echo {
			continue
		}
		_ = s.deliver(c, m)
	}
}

// Send delivers m to every admitted session. In echo mode m is also
// published on the aggregate stream with a nil sender.
func (s *Server) Send(m session.Message) error {
	var err error
	for _, c := range s.clients.All() {
		err = multierr.Append(err, s.deliver(c, m))
	}
	if s.cfg.Echo {
		s.publishMessage(Inbound{Message: m})
	}
	return err
}

func (s *Server) SendText(text string) error { return s.Send(session.Text(text)) }

// deliver queues m on c. A session whose queue is full is disconnected so one
// slow reader cannot stall the relay.
func (s *Server) deliver(c *session.Client, m session.Message) error {
	err := c.Send(m)
	switch {
	case err == nil:
		s.metrics.relay()
		return nil
	case errors.Is(err, session.ErrSendQueueFull):
		s.metrics.drop(dropSlowConsumer)
		s.log.Warn("slow consumer, disconnecting", zap.String("session", c.ID()))
		go func() { _ = c.CloseWith(websocket.CloseTryAgainLater, "slow consumer") }()
	default:
		s.metrics.drop(dropClosed)
	}
	return fmt.Errorf("deliver to %s: %w", c.ID(), err)
}
