// Package affinity tracks which thread role owns a resource.
//
// Goroutines have no identity, so a thread role is represented by a Token.
// The goroutine acting in that role carries its token in a context.Context
// and passes it to any call that needs to know where it is running.
package affinity

import (
	"context"
	"sync/atomic"
)

var nextTokenID atomic.Uint64

// Token names a thread role such as the driver thread or one render worker.
// The zero Token belongs to nobody.
type Token struct {
	id   uint64
	name string
}

// NewToken allocates a token that is distinct from every other token.
func NewToken(name string) Token {
	return Token{id: nextTokenID.Add(1), name: name}
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool {
	return t.id == 0
}

// Name returns the label given to NewToken.
func (t Token) Name() string {
	if t.id == 0 {
		return "<none>"
	}
	return t.name
}

func (t Token) String() string {
	return t.Name()
}

type tokenKey struct{}

// WithToken returns a context carrying tok.
func WithToken(ctx context.Context, tok Token) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tokenKey{}, tok)
}

// FromContext returns the token carried by ctx, if any.
func FromContext(ctx context.Context) (Token, bool) {
	if ctx == nil {
		return Token{}, false
	}
	tok, ok := ctx.Value(tokenKey{}).(Token)
	if !ok || tok.IsZero() {
		return Token{}, false
	}
	return tok, true
}

// Holds reports whether ctx carries tok.
func Holds(ctx context.Context, tok Token) bool {
	if tok.IsZero() {
		return false
	}
	got, ok := FromContext(ctx)
	return ok && got == tok
}
