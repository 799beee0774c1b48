// Package publisher declares the interface for emitting sync notifications.
package publisher

import "context"

// Publisher sends one message per completed sync run so downstream consumers
// (report builders, alerting) can react without polling the database.
type Publisher interface {
	// Publish sends the payload to the topic and returns the message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
