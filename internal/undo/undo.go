// Package undo implements the undo log and quantum lifecycle: a LIFO stack
// of reversible actions grouped by monotonic caller-supplied tokens, the way
// flydb/internal/storage.Transaction buffered operations for commit/rollback
// but generalized from one write-buffer to many concurrently open quanta
// addressed by token.
package undo

import (
	"sync"

	"flyengine/internal/errors"
)

// Action is one reversible mutation. Implementations carry the minimum
// state needed to invert themselves: a closed set of concrete action
// types rather than a function pointer plus an opaque context value.
type Action interface {
	// Undo applies the inverse of this action. Called in reverse
	// insertion order during rewind.
	Undo()
	// Release finalizes this action as permanent. Called in forward
	// insertion order during release.
	Release()
}

// quantum is the ordered list of actions registered under one token.
type quantum struct {
	token   int64
	actions []Action
}

// Log is the per-engine undo log. Every method holds mu for its whole
// body, so concurrent calls are serialized; the engine it backs is
// single-threaded per partition.
type Log struct {
	mu      sync.Mutex
	current int64
	hasOpen bool
	stack   []*quantum // oldest first; tokens strictly increasing
}

// ErrNoOpenQuantum is returned by Register when no quantum is open.
var ErrNoOpenQuantum = errors.Serialization("undo: no open quantum")

// NewLog constructs an empty undo log with no open quantum.
func NewLog() *Log {
	return &Log{current: -1}
}

// SetToken opens a new quantum for token t, unless t is the sentinel
// "no undo" value (math.MaxInt64) or already the current token, in which
// case it is a no-op. Asserts t > current when it does open a quantum.
func (l *Log) SetToken(t int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	const noUndo = int64(1<<63 - 1) // math.MaxInt64, kept local to avoid the import for one constant
	if t == noUndo {
		return
	}
	if l.hasOpen && t == l.current {
		return
	}
	if l.hasOpen && t <= l.current {
		panic(errors.Serialization("undo: set_token(%d) is not strictly greater than current token %d", t, l.current))
	}
	l.stack = append(l.stack, &quantum{token: t})
	l.current = t
	l.hasOpen = true
}

// Register appends an inverse action to the currently open quantum.
func (l *Log) Register(a Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasOpen || len(l.stack) == 0 {
		return ErrNoOpenQuantum
	}
	top := l.stack[len(l.stack)-1]
	top.actions = append(top.actions, a)
	return nil
}

// Release finalizes every quantum with token <= t, running each action's
// Release in forward (insertion) order, oldest quantum first.
func (l *Log) Release(t int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.stack[:0:0]
	for _, q := range l.stack {
		if q.token <= t {
			for _, a := range q.actions {
				a.Release()
			}
			continue
		}
		kept = append(kept, q)
	}
	l.stack = kept
	if len(l.stack) == 0 {
		l.hasOpen = false
	}
}

// Rewind undoes every quantum with token >= t, running each quantum's
// actions in reverse insertion order, most-recent quantum first, then
// discards them. Quanta strictly above t are rewound by the same call;
// quanta below t are kept.
func (l *Log) Rewind(t int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []*quantum
	for i := len(l.stack) - 1; i >= 0; i-- {
		q := l.stack[i]
		if q.token < t {
			// Stack is insertion-ordered (tokens increasing), so once we
			// see a token below t every remaining (older) entry is too.
			kept = append([]*quantum{}, l.stack[:i+1]...)
			break
		}
		for j := len(q.actions) - 1; j >= 0; j-- {
			q.actions[j].Undo()
		}
	}
	l.stack = kept
	if len(l.stack) == 0 {
		l.hasOpen = false
		l.current = -1
	} else {
		l.current = l.stack[len(l.stack)-1].token
		l.hasOpen = true
	}
}

// CurrentToken returns the most recently opened token, or -1 if none is
// open.
func (l *Log) CurrentToken() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasOpen {
		return -1
	}
	return l.current
}
