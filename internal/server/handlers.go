package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/pelican-ai/roost/internal/statesync"
	"github.com/pelican-ai/roost/internal/version"
)

// AdminError is the JSON shape every failed admin call returns.
type AdminError struct {
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}

// StatusResponse is the operator-facing status document.
type StatusResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Version        string `json:"version"`
	HasCredentials bool   `json:"has_credentials"`
	Restored       bool   `json:"restored"`
	LastSync       string `json:"last_sync,omitempty"`
}

// SyncResponse augments the engine result with a humanized size.
type SyncResponse struct {
	*statesync.SyncResult
	TotalSize string `json:"total_size"`
}

// handlers relay engine results verbatim; this layer adds nothing but
// transport.
type handlers struct {
	engine *statesync.Engine
}

func newHandlers(engine *statesync.Engine) *handlers {
	return &handlers{engine: engine}
}

func (h *handlers) status(c *gin.Context) {
	info := h.engine.Status()
	c.PureJSON(http.StatusOK, &StatusResponse{
		Status:         "ok",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Version:        version.Version,
		HasCredentials: info.HasCredentials,
		Restored:       info.Restored,
		LastSync:       info.LastSync,
	})
}

func (h *handlers) sync(c *gin.Context) {
	res, err := h.engine.Sync(c.Request.Context())
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &SyncResponse{
		SyncResult: res,
		TotalSize:  humanize.Bytes(uint64(res.TotalBytes)),
	})
}

func (h *handlers) restore(c *gin.Context) {
	res, err := h.engine.Restore(c.Request.Context())
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, res)
}

// writeEngineError maps the engine's failure taxonomy onto HTTP codes. The
// message is the engine's own, passed through untouched.
func writeEngineError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	errorCode := "INTERNAL"

	switch {
	case errors.Is(err, statesync.ErrNotConfigured):
		code, errorCode = http.StatusPreconditionFailed, "NOT_CONFIGURED"
	case errors.Is(err, statesync.ErrMountFailed):
		code, errorCode = http.StatusBadGateway, "MOUNT_FAILED"
	case errors.Is(err, statesync.ErrRestoreRequired):
		code, errorCode = http.StatusConflict, "RESTORE_REQUIRED"
	case errors.Is(err, statesync.ErrConfigMissing):
		code, errorCode = http.StatusUnprocessableEntity, "CONFIG_MISSING"
	case errors.Is(err, statesync.ErrNoBackup):
		code, errorCode = http.StatusNotFound, "NO_BACKUP"
	case errors.Is(err, statesync.ErrCopyFailed):
		code, errorCode = http.StatusBadGateway, "COPY_FAILED"
	case errors.Is(err, statesync.ErrVerificationFailed):
		code, errorCode = http.StatusBadGateway, "VERIFICATION_FAILED"
	}

	c.PureJSON(code, &AdminError{ErrorCode: errorCode, Error: err.Error()})
}
