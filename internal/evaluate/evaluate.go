// Package evaluate runs controller-supplied script source in an isolated
// goja VM. It backs the evaluate command, which bridges only register when
// explicitly allowed to.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/session"
)

// DefaultTimeout bounds a script when the Evaluator has none configured.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when a script runs past its deadline.
	ErrTimeout = errors.New("evaluation timed out")
	// ErrPending is returned when a script yields a promise that never settles.
	ErrPending = errors.New("promise did not settle")
)

// Evaluator implements commands.Evaluator. Each call gets a fresh VM, so
// scripts share no state and calls may run concurrently.
type Evaluator struct {
	Timeout time.Duration
	// Session, when set, is exposed to scripts as document.cookie.
	Session session.Source
}

var _ commands.Evaluator = (*Evaluator)(nil)

// Evaluate runs c.Source and returns the exported completion value. A
// returned promise is unwrapped once it has settled.
func (e *Evaluator) Evaluate(ctx context.Context, c commands.Evaluate) (any, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	if err := e.setupGlobals(ctx, vm); err != nil {
		return nil, err
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := vm.RunString(c.Source)
	if err != nil {
		return nil, scriptError(err)
	}
	if p, ok := val.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			val = p.Result()
		case goja.PromiseStateRejected:
			return nil, errors.New(message(p.Result()))
		default:
			return nil, ErrPending
		}
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	if _, ok := goja.AssertFunction(val); ok {
		return nil, nil
	}
	return val.Export(), nil
}

func (e *Evaluator) setupGlobals(ctx context.Context, vm *goja.Runtime) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, consoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	cookie := ""
	if e.Session != nil {
		snap, err := session.Load(ctx, e.Session)
		if err != nil && !errors.Is(err, session.ErrNoCredentials) {
			return fmt.Errorf("load session: %w", err)
		}
		cookie = session.Header(snap.Cookies)
	}
	document := vm.NewObject()
	if err := document.Set("cookie", cookie); err != nil {
		return err
	}
	return vm.Set("document", document)
}

func consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		logx.Log.Debug().Str("level", level).Msg("script: " + strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func scriptError(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return cause
		}
		return ErrTimeout
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return errors.New(message(ex.Value()))
	}
	return err
}

// message mirrors what error.message yields for thrown Error objects and
// falls back to the string form of anything else.
func message(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			return m.String()
		}
	}
	return v.String()
}
