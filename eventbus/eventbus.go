// Package eventbus provides a simple publish/subscribe event bus used to
// announce authentication changes to interested components, such as audit
// logging in the server or cache invalidation in the client.
package eventbus

import (
	"context"
)

// Topics published by qavault.
const (
	// TopicLogin is published after a session has been established. Data is
	// a LoginEvent.
	TopicLogin = "auth.login"

	// TopicLogout is published after a session has been torn down. Data is a
	// LogoutEvent.
	TopicLogout = "auth.logout"
)

// LoginEvent describes a successful sign-in or registration.
type LoginEvent struct {
	DisplayName string
	Email       string
	Registered  bool // True when the login created a new account.
}

// LogoutEvent describes the end of a session.
type LogoutEvent struct {
	DisplayName string
	TokenID     string
}

// Message is delivered to subscribers.
type Message struct {
	ID    string
	Topic string
	Data  any
}

// Handler receives published messages.
type Handler func(context.Context, *Message) error

// EventBus provides a simple publish/subscribe interface for publishing and
// subscribing to events.
type EventBus interface {
	// Subscribe to a topic. The handler will be called when a message is
	// published. Errors are logged. Handlers should assume that they may be
	// called multiple times concurrently.
	Subscribe(topic string, handler Handler)

	// Publish a message to all subscribers of the topic. Delivery is
	// asynchronous.
	Publish(topic string, data any)

	// Wait for the event bus to finish processing all published messages.
	Wait(ctx context.Context) error
}
