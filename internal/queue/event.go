// Package queue carries account lifecycle events over RabbitMQ: the payload
// types, a publisher used by the session service and a consumer that appends
// them to an audit log.
package queue

import "time"

// AccountCreatedQueue is the durable queue account events are routed to.
const AccountCreatedQueue = "account.created"

// AccountCreatedEvent is published after a successful named or anonymous
// registration.  It holds no credential material.
type AccountCreatedEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"created_at"`
}
