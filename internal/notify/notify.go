// SPDX-License-Identifier: Apache-2.0

// Package notify delivers human-facing messages to an external channel and
// supports updating a previously posted message in place. Delivery is
// best-effort; callers decide whether a failure matters.
package notify

import "context"

// Message is one channel posting. Meta carries structured context the
// receiving side can render (document id, approval id, field coverage).
type Message struct {
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Channel posts and updates messages. PostMessage returns an opaque
// reference that can later be passed to UpdateMessage to edit the original
// posting in place.
type Channel interface {
	PostMessage(ctx context.Context, channel string, msg Message) (ref string, err error)
	UpdateMessage(ctx context.Context, channel, ref string, msg Message) error
}

// Noop is the channel used when no notification target is configured.
type Noop struct{}

func (Noop) PostMessage(ctx context.Context, channel string, msg Message) (string, error) {
	return "", nil
}

func (Noop) UpdateMessage(ctx context.Context, channel, ref string, msg Message) error {
	return nil
}
