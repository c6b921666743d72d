// Package publisher defines the message outputs of the record pipeline.
package publisher

import "context"

// Publisher delivers one payload to a topic and returns its message id
// when the transport assigns one.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
