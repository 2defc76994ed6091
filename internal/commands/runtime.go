package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// Observer is told about every executed command.
type Observer interface {
	CommandStarted(name string)
	CommandFinished(name string, success bool, d time.Duration)
}

// Runtime executes one envelope at a time against a Registry. It is safe for
// concurrent use; each call owns its own state.
type Runtime struct {
	reg *Registry
	obs Observer
}

// NewRuntime returns a runtime over reg. obs may be nil.
func NewRuntime(reg *Registry, obs Observer) *Runtime {
	return &Runtime{reg: reg, obs: obs}
}

// Registry returns the registry the runtime dispatches to.
func (rt *Runtime) Registry() *Registry { return rt.reg }

// Execute decodes and runs env and always returns a response carrying
// env.RequestID. Handler errors and panics become negative responses.
func (rt *Runtime) Execute(ctx context.Context, env protocol.CommandEnvelope) protocol.ResponseEnvelope {
	start := time.Now()
	label := env.Command
	if !rt.reg.Has(label) {
		label = "unknown"
	}
	if rt.obs != nil {
		rt.obs.CommandStarted(label)
	}
	var resp protocol.ResponseEnvelope
	result, err := rt.run(ctx, env)
	if err == nil {
		resp, err = protocol.Success(env.RequestID, result)
	}
	if err != nil {
		resp = protocol.Failure(env.RequestID, err.Error())
	}
	dur := time.Since(start)
	if rt.obs != nil {
		rt.obs.CommandFinished(label, resp.Success, dur)
	}
	lvl := logx.Log.Info()
	msg := "command complete"
	if !resp.Success {
		lvl = logx.Log.Warn().Str("error", resp.Error)
		msg = "command failed"
	}
	lvl.Str("command", env.Command).RawJSON("request_id", idOrNull(env.RequestID)).Dur("duration", dur).Msg(msg)
	return resp
}

func (rt *Runtime) run(ctx context.Context, env protocol.CommandEnvelope) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			logx.Log.Error().Str("command", env.Command).Interface("panic", v).Msg("handler panic")
			result, err = nil, &PanicError{Value: v}
		}
	}()
	cmd, err := rt.reg.Decode(env.Command, env.Params)
	if err != nil {
		return nil, err
	}
	if cmd.Kind() == KindEvaluate {
		logx.Log.Warn().RawJSON("request_id", idOrNull(env.RequestID)).Msg("evaluating controller-supplied source")
	}
	return rt.reg.Dispatch(ctx, cmd)
}

func idOrNull(id []byte) []byte {
	if len(id) == 0 {
		return []byte("null")
	}
	return id
}

func panicText(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
