package delegate

import "github.com/lanrelay/lanrelay/internal/session"

// LifecycleObserver is told about sessions joining and leaving the relay.
// Calls happen on their own goroutine; the relay never waits for them.
// OnDisconnected for a session starts only after its OnConnected returned.
type LifecycleObserver interface {
	OnConnected(c *session.Client)
	OnDisconnected(c *session.Client)
}

// ObserverFuncs adapts a pair of optional funcs to LifecycleObserver.
type ObserverFuncs struct {
	Connected    func(*session.Client)
	Disconnected func(*session.Client)
}

func (o ObserverFuncs) OnConnected(c *session.Client) {
	if o.Connected != nil {
		o.Connected(c)
	}
}

func (o ObserverFuncs) OnDisconnected(c *session.Client) {
	if o.Disconnected != nil {
		o.Disconnected(c)
	}
}
