package service

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

const HealthzPath = "/healthz"

type HealthzServer struct {
	server *http.Server
	log    log.Logger
}

// NewHealthzServer creates a health endpoint listening on addr
func NewHealthzServer(logger log.Logger, addr string) *HealthzServer {
	h := &HealthzServer{log: logger}
	hdlr := http.NewServeMux()
	hdlr.HandleFunc(HealthzPath, h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	return h
}

// Start serves until Shutdown, it returns http.ErrServerClosed after a clean shutdown
func (h *HealthzServer) Start() error {
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Handler returns the http handler of the server
func (h *HealthzServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
