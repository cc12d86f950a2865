package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// StatusFunc reports the reporter state shown by /healthz.
type StatusFunc func() string

type HealthzServer struct {
	log    log.Logger
	status StatusFunc
	server *http.Server
	addr   net.Addr
}

func NewHealthzServer(logger log.Logger, status StatusFunc) *HealthzServer {
	return &HealthzServer{log: logger, status: status}
}

// Start binds addr and serves /healthz in the background.
func (h *HealthzServer) Start(addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind healthz server: %w", err)
	}
	h.addr = listener.Addr()
	h.server = &http.Server{
		Handler:           c.Handler(hdlr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Healthz server failed", "err", err)
		}
	}()
	return nil
}

func (h *HealthzServer) Addr() net.Addr {
	return h.addr
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	body := "OK"
	if h.status != nil {
		body = "OK " + h.status()
	}
	w.Write([]byte(body)) //nolint:errcheck
}
