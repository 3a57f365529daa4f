package server

import (
	"context"

	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
)

// subscribeAudit writes an audit log line for every login and logout.
func subscribeAudit(bus eventbus.EventBus) {
	bus.Subscribe(eventbus.TopicLogin, func(ctx context.Context, msg *eventbus.Message) error {
		e, ok := msg.Data.(eventbus.LoginEvent)
		if !ok {
			return nil
		}
		logging.Infow(ctx, "audit: login", "email", e.Email, "display_name", e.DisplayName, "registered", e.Registered)
		return nil
	})
	bus.Subscribe(eventbus.TopicLogout, func(ctx context.Context, msg *eventbus.Message) error {
		e, ok := msg.Data.(eventbus.LogoutEvent)
		if !ok {
			return nil
		}
		logging.Infow(ctx, "audit: logout", "display_name", e.DisplayName, "token_id", e.TokenID)
		return nil
	})
}
