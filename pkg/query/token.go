package query

import (
	"context"
)

// Token identifies one fetch lifecycle. Only a Unit's current token may
// apply its result; every other token's result is discarded.
type Token struct {
	id     uint64
	cancel context.CancelFunc
}

// ID returns the token's sequence number within its Unit.
func (t *Token) ID() uint64 {
	return t.id
}

// Tokens mints and tracks the current token of one Unit.
// It is not synchronized; the owning Unit serializes access.
type Tokens struct {
	next    uint64
	current *Token
}

// Mint invalidates the current token, if any, and returns a new current
// token together with a context that is cancelled when the token is
// superseded or finished.
func (s *Tokens) Mint(parent context.Context) (*Token, context.Context) {
	s.Invalidate()

	ctx, cancel := context.WithCancel(parent)
	s.next++
	tok := &Token{id: s.next, cancel: cancel}
	s.current = tok
	return tok, ctx
}

// IsCurrent reports whether t is still the active token.
func (s *Tokens) IsCurrent(t *Token) bool {
	return t != nil && s.current == t
}

// Invalidate cancels the current token. Returns false if none was active.
func (s *Tokens) Invalidate() bool {
	if s.current == nil {
		return false
	}
	s.current.cancel()
	s.current = nil
	return true
}

// Finish retires t after its result was applied. It is a no-op unless t is
// current.
func (s *Tokens) Finish(t *Token) bool {
	if !s.IsCurrent(t) {
		return false
	}
	s.current = nil
	t.cancel()
	return true
}

// Active reports whether a lifecycle is in flight.
func (s *Tokens) Active() bool {
	return s.current != nil
}
