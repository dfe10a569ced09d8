package middleware

import (
	"context"
)

// Chain carries one inbound datagram through the handler pipeline. The
// query stays in raw wire format end to end; replies are correlated byte
// payloads written through the Writer.
type Chain struct {
	Writer ResponseWriter
	Query  []byte

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// (*Chain).Next call next handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// (*Chain).Cancel cancel next calls. Cancelling without writing a reply is
// the silent-drop outcome.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// (*Chain).CancelWithReply write the correlated payload and cancel next
// calls.
func (ch *Chain) CancelWithReply(payload []byte) error {
	_, err := ch.Writer.WriteReply(payload)
	ch.count = 0

	return err
}

// (*Chain).Reset reset the chain for a new datagram.
func (ch *Chain) Reset(pw PacketWriter, query []byte) {
	ch.Writer.Reset(pw)
	ch.Query = query
	ch.count = len(ch.handlers)
	ch.head = 0
}
