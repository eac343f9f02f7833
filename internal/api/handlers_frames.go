package api

import (
	"bytes"
	"encoding/base64"
	"image"
	"net/http"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/engramhq/engram/internal/capture"
)

// FrameHandler accepts frames pushed by a platform screen grabber.
type FrameHandler struct {
	source *capture.IngestSource
}

func NewFrameHandler(source *capture.IngestSource) *FrameHandler {
	return &FrameHandler{source: source}
}

type frameRequest struct {
	Image        string `json:"image"` // base64 PNG or JPEG
	MonitorID    int    `json:"monitorId"`
	AppName      string `json:"appName"`
	WindowTitle  string `json:"windowTitle"`
	IsFullscreen bool   `json:"isFullscreen"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	IdleMs       int64  `json:"idleMs"`
}

// Ingest handles POST /frames
func (h *FrameHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64")
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	h.source.Push(&capture.Frame{
		Image:        img,
		MonitorID:    req.MonitorID,
		AppName:      req.AppName,
		WindowTitle:  req.WindowTitle,
		IsFullscreen: req.IsFullscreen,
		Width:        req.Width,
		Height:       req.Height,
	}, time.Duration(req.IdleMs)*time.Millisecond)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
