package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes wires the relay's HTTP surface: the WebSocket endpoint, the
// upload bridge, stored-upload serving, health, and optionally a static
// client at the root.
func SetupRoutes(hub *Hub, cfg *Config) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.Handle("/ws", NewWSHandler(hub, cfg)).Methods(http.MethodGet)
	r.Handle("/upload", NewUploadHandler(hub, cfg.Upload)).Methods(http.MethodPost)
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Upload.Dir))))

	if cfg.Server.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.Server.StaticDir)))
	} else {
		r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	}

	return r
}
