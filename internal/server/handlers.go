package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/damso-chat/damso/internal/logging"
)

// WSHandler upgrades HTTP requests to WebSocket connections and hands them
// to the hub.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	socket   SocketConfig
}

func NewWSHandler(hub *Hub, cfg *Config) *WSHandler {
	return &WSHandler{
		hub:    hub,
		socket: cfg.Socket,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginChecker(cfg.Server.AllowedOrigins),
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.socket)
	h.hub.Register(client)
}

// UploadHandler is the file-message bridge: it stores the multipart upload
// on disk and injects a file-message envelope through the hub's single
// injection point. The relay itself never inspects the stored bytes again;
// they are served back under /uploads/.
type UploadHandler struct {
	hub *Hub
	cfg UploadConfig
}

func NewUploadHandler(hub *Hub, cfg UploadConfig) *UploadHandler {
	return &UploadHandler{hub: hub, cfg: cfg}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.cfg.MaxFileSize); err != nil {
		http.Error(w, "Bad request.", http.StatusBadRequest)
		return
	}

	roomID := r.FormValue("roomId")
	senderID := r.FormValue("senderId")
	file, header, err := r.FormFile("file")
	if err != nil || roomID == "" || senderID == "" {
		http.Error(w, "Bad request.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	storedName := uuid.NewString() + "-" + filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(h.cfg.Dir, storedName))
	if err != nil {
		logging.L().Error().Err(err).Str("dir", h.cfg.Dir).Msg("failed to store upload")
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}
	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logging.L().Error().Err(err).Str("file", storedName).Msg("failed to write upload")
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	descriptor := FileDescriptor{
		Name: header.Filename,
		URL:  "/uploads/" + storedName,
		Size: size,
	}
	if err := h.hub.BroadcastFileMessage(roomID, senderID, descriptor); err != nil {
		if errors.Is(err, ErrUnknownSender) {
			http.Error(w, "Bad request.", http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	logging.L().Info().
		Str("room_id", roomID).
		Str("file", descriptor.Name).
		Int64("size", size).
		Msg("file relayed to room")

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "File uploaded.")
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Damso relay is running!")
}
