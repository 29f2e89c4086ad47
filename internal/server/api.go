package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/a-essam23/go-relay/internal/storage"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// intParam reads a positive integer query parameter, falling back to def.
func intParam(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// handleMessages serves one page of a room's history. It never mutates state.
func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, "page", defaultPage)
	limit := intParam(r, "limit", defaultLimit)
	if limit > a.config.Relay.HistoryLimit {
		limit = a.config.Relay.HistoryLimit
	}
	room := r.URL.Query().Get("room")
	if room == "" {
		room = a.config.Relay.DefaultRoom
	}
	writeJSON(w, http.StatusOK, a.stateManager.History(room, page, limit))
}

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stateManager.Users())
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := a.files.MaxBytes()
	// multipart framing needs a little room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, storage.ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, storage.ErrEmptyFile.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		a.logger.Error("Failed to read upload", slog.Any("error", err))
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	ext, err := a.files.Accept(header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, storage.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	url, err := a.files.Store(r.Context(), data, ext)
	if err != nil {
		a.logger.Error("Failed to store upload", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	a.logger.Info("File uploaded", slog.String("url", url), slog.Int("bytes", len(data)))
	writeJSON(w, http.StatusOK, map[string]string{"fileUrl": url})
}
