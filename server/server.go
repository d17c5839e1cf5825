// Package server contains misc server utilities.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// ShutdownGrace is how long in-flight requests get once the server is told to stop
const ShutdownGrace = 5 * time.Second

// NewRouter returns a chi router with request logging and panic recovery
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

// Serve serves h on addr until ctx is done, then shuts the server down
// gracefully.  It returns nil after a clean shutdown.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h)
}

// ServeListener is Serve on an existing listener
func ServeListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	log.Printf("now listening for requests at %s\n", ln.Addr())
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	err := srv.Shutdown(sctx)
	if serr := <-errs; !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	return err
}
