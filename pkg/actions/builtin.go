package actions

import (
	"context"
	"strings"
	"time"
)

// NoneAction does nothing and succeeds. The model picks it when a step
// needs no side effect.
type NoneAction struct{}

func (NoneAction) Name() string { return "NONE" }

func (NoneAction) Validate(_ context.Context, _ State) bool { return true }

func (NoneAction) Invoke(_ context.Context, _ State) Result {
	return Result{Success: true}
}

// TimeAction reports the current wall-clock time in UTC
type TimeAction struct{}

func (TimeAction) Name() string { return "GET_TIME" }

func (TimeAction) Validate(_ context.Context, _ State) bool { return true }

func (TimeAction) Invoke(_ context.Context, _ State) Result {
	return Result{
		Success: true,
		Text:    time.Now().UTC().Format(time.RFC3339),
	}
}

// EchoAction restates the incoming message content. Useful as a smoke-test
// capability and in scripted runs.
type EchoAction struct{}

func (EchoAction) Name() string { return "ECHO" }

func (EchoAction) Validate(_ context.Context, st State) bool {
	return strings.TrimSpace(st.Content) != ""
}

func (EchoAction) Invoke(_ context.Context, st State) Result {
	return Result{Success: true, Text: st.Content}
}

// RegisterBuiltins adds the stock capabilities to a registry
func RegisterBuiltins(r *Registry) error {
	for _, a := range []Action{NoneAction{}, TimeAction{}, EchoAction{}} {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}
