package lua

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// InvokeTrigger calls the extension's on_trigger handler with the trigger
// name and a copy of the context payload, bounded by the time budget.
//
// Failure modes collapse to ordinary errors at this boundary:
//   - the budget expiring returns an error satisfying
//     errors.Is(err, context.DeadlineExceeded)
//   - a Lua error or Go panic inside the handler returns a descriptive error
//
// The state remains usable after any of them; a timed-out handler's stack is
// discarded. Cancellation is best-effort: gopher-lua checks the context
// between VM instructions, so a handler blocked inside a single Go call
// finishes that call before the abort lands.
func (s *State) InvokeTrigger(ctx context.Context, trigger string, payload map[string]any, budget time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if !s.loaded {
		return ErrEntryNotLoaded
	}

	if budget <= 0 {
		budget = DefaultTimeBudget * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	handler := s.L.GetGlobal(handlerGlobal)
	if handler.Type() != lua.LTFunction {
		return ErrNoHandler
	}

	// Fresh table per call keeps the host payload out of the handler's reach.
	ctxTable := s.bridge.ToLuaValue(payload)

	s.L.SetContext(callCtx)
	defer s.L.RemoveContext()

	base := s.L.GetTop()

	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("handler panic: %v", r)
			}
		}()
		s.L.Push(handler)
		s.L.Push(lua.LString(trigger))
		s.L.Push(ctxTable)
		callErr = s.L.PCall(2, 0, nil)
	}()

	// Drop anything the aborted call left behind.
	s.L.SetTop(base)

	if callErr == nil {
		return nil
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(callErr, context.DeadlineExceeded) {
		return fmt.Errorf("handler exceeded %s budget: %w", budget, context.DeadlineExceeded)
	}
	if err := callCtx.Err(); err != nil {
		return fmt.Errorf("handler interrupted: %w", err)
	}
	return fmt.Errorf("handler error: %w", callErr)
}
