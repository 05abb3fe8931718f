package common

import (
	"context"
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReentrancy is returned when a scope is re-entered without permission.
	ErrReentrancy = errors.New("reentrant call")
	// ErrAccountLocked is returned when a permitted re-entry targets an
	// account that an outer frame is already operating on.
	ErrAccountLocked = errors.New("account locked by outer call")
)

type frameKey struct{}

// Frame describes one in-flight call into a scope (usually a vault). Frames
// travel in the context handed to external collaborators so that a call back
// into the same scope can be recognised.
type Frame struct {
	Scope   ethcommon.Address
	Account ethcommon.Address
	OpID    string
	Depth   int
	parent  *Frame
}

// Nested reports whether an outer frame for the same scope exists.
func (f *Frame) Nested() bool {
	return f != nil && f.Depth > 0
}

// CurrentFrame returns the innermost frame carried by ctx, or nil.
func CurrentFrame(ctx context.Context) *Frame {
	if ctx == nil {
		return nil
	}
	frame, _ := ctx.Value(frameKey{}).(*Frame)
	return frame
}

// Enter pushes a frame for scope and account. A second frame for the same
// scope is refused with ErrReentrancy unless allow is set; when allowed, an
// account already locked by an outer frame is refused with ErrAccountLocked.
// A zero account locks nothing.
func Enter(ctx context.Context, scope, account ethcommon.Address, opID string, allow bool) (context.Context, *Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent := CurrentFrame(ctx)
	depth := 0
	for f := parent; f != nil; f = f.parent {
		if f.Scope != scope {
			continue
		}
		if !allow {
			return ctx, nil, ErrReentrancy
		}
		if account != (ethcommon.Address{}) && f.Account == account {
			return ctx, nil, ErrAccountLocked
		}
		depth++
	}
	frame := &Frame{Scope: scope, Account: account, OpID: opID, Depth: depth, parent: parent}
	return context.WithValue(ctx, frameKey{}, frame), frame, nil
}
