package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/api/handler"
	"github.com/V4T54L/azmon-forwarder/internal/adapter/api/middleware"
	"github.com/V4T54L/azmon-forwarder/internal/domain"
	"github.com/V4T54L/azmon-forwarder/internal/pkg/config"
)

// NewRouter creates the HTTP router the Functions host invokes.
func NewRouter(cfg *config.Config, logger *slog.Logger, forwarder domain.BatchForwarder) http.Handler {
	mux := http.NewServeMux()

	invocationHandler := handler.NewInvocationHandler(forwarder, logger, cfg.TriggerBindingName, cfg.MaxInvocationSize)

	// The host posts to /<function name>.
	mux.Handle("/"+cfg.FunctionName, invocationHandler)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Logging(logger)(mux)
}
