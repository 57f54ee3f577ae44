package httpserve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/logx"
)

// ServeUntilContext starts an HTTP server bound to addr and shuts it down when ctx is done.
// It returns the resolved listen address.
func ServeUntilContext(ctx context.Context, addr string, handler http.Handler) (string, error) {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("http server error")
		}
	}()
	return actual, nil
}
