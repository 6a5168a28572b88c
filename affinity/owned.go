package affinity

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotOwner is returned when a token that does not own a resource tries to
// use or transfer it.
var ErrNotOwner = errors.New("affinity: caller does not own resource")

// Owned wraps a value that only one thread role may touch at a time.
// Ownership moves explicitly with Transfer.
type Owned[T any] struct {
	mu    sync.Mutex
	owner Token
	value T
}

// Own creates a handle for value owned by owner.
func Own[T any](owner Token, value T) *Owned[T] {
	return &Owned[T]{owner: owner, value: value}
}

// Owner returns the current owner.
func (o *Owned[T]) Owner() Token {
	if o == nil {
		return Token{}
	}
	o.mu.Lock()
	owner := o.owner
	o.mu.Unlock()
	return owner
}

// Get returns the value if holder owns it.
func (o *Owned[T]) Get(holder Token) (T, error) {
	var zero T
	if o == nil {
		return zero, ErrNotOwner
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder.IsZero() || o.owner != holder {
		return zero, fmt.Errorf("%w: held by %s, requested by %s", ErrNotOwner, o.owner, holder)
	}
	return o.value, nil
}

// Transfer hands the value from one owner to another.
func (o *Owned[T]) Transfer(from, to Token) error {
	if o == nil {
		return ErrNotOwner
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if from.IsZero() || o.owner != from {
		return fmt.Errorf("%w: held by %s, transfer requested by %s", ErrNotOwner, o.owner, from)
	}
	o.owner = to
	return nil
}
