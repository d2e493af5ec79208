package feedbroker

import "context"

// Action enumerates the kinds of operation an ACL implementation may gate.
// Authentication and authorization are explicitly out of scope (the ACL
// interface is a stub): feedbroker itself never calls Allow anywhere —
// this exists purely as an extension point a caller can wire into its own
// middleware without any other part of the package changing.
type Action string

const (
	ActionCreateFeed Action = "create_feed"
	ActionDeleteFeed Action = "delete_feed"
	ActionPublish    Action = "publish"
	ActionRetract    Action = "retract"
	ActionConsume    Action = "consume"
)

// ACL authorizes an action against a named feed for an opaque principal.
type ACL interface {
	Allow(ctx context.Context, principal, feed string, action Action) error
}

// NoACL allows everything. It's not wired into Broker anywhere; it exists
// as the obvious default for a caller implementing the extension point
// above.
type NoACL struct{}

func (NoACL) Allow(ctx context.Context, principal, feed string, action Action) error {
	return nil
}
