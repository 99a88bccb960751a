// Package messenger implements the pub/sub bus the indexer subscribes
// to (spec.md §4.4): publishers push byte payloads onto a named
// subject, subscribers drain them in order. pkg/api, pkg/process and
// pkg/transfer's Importer publish onto it; the indexer subscribes.
package messenger

import "context"

// Message is one payload delivered to a subject subscriber.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is a handle returned by Subscribe; Messages delivers
// the subject's payloads in publish order until Unsubscribe is called
// or the Messenger is closed, at which point the channel is closed.
type Subscription interface {
	Messages() <-chan Message
	Unsubscribe() error
}

// Messenger is the capability surface both the in-memory and Redis
// backends implement.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string) (Subscription, error)
	Close() error
}
