// Package wsproxy pipes browser-side websocket connections to an upstream
// controller, one upstream connection per downstream connection.
package wsproxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
)

const maxFrameSize = 16 << 20

// Handler returns an http.Handler that accepts websocket connections from any
// origin and relays every frame to and from upstream.
func Handler(upstream string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		down, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer func() { _ = down.CloseNow() }()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		up, _, err := websocket.Dial(ctx, upstream, nil)
		if err != nil {
			logx.Log.Error().Err(err).Str("upstream", upstream).Msg("upstream dial failed")
			_ = down.Close(websocket.StatusTryAgainLater, "upstream unavailable")
			return
		}
		defer func() { _ = up.CloseNow() }()
		down.SetReadLimit(maxFrameSize)
		up.SetReadLimit(maxFrameSize)
		logx.Log.Info().Str("remote_addr", r.RemoteAddr).Str("upstream", upstream).Msg("client connected")

		errc := make(chan error, 2)
		go func() { errc <- pipe(ctx, up, down) }()
		go func() { errc <- pipe(ctx, down, up) }()
		err = <-errc
		cancel()
		code := websocket.CloseStatus(err)
		if code == -1 {
			code = websocket.StatusGoingAway
		}
		logx.Log.Info().Str("remote_addr", r.RemoteAddr).Int("code", int(code)).Msg("client disconnected")
	})
}

// pipe copies frames from src to dst until either side fails.
func pipe(ctx context.Context, dst, src *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				_ = dst.Close(ce.Code, ce.Reason)
			}
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}
