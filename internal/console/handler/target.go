package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/soc-response-gateway/internal/directory"
	"github.com/xela07ax/soc-response-gateway/internal/engine"
	"go.uber.org/zap"
)

// Reloadable — компоненты с атомарно подменяемым снапшотом конфигурации.
type Reloadable interface {
	Reload() error
}

type TargetHandler struct {
	directory *directory.Directory
	isolation *engine.IsolationManager
	reloaders []Reloadable
	logger    *zap.Logger
}

func NewTargetHandler(dir *directory.Directory, isolation *engine.IsolationManager, logger *zap.Logger, reloaders ...Reloadable) *TargetHandler {
	return &TargetHandler{
		directory: dir,
		isolation: isolation,
		reloaders: reloaders,
		logger:    logger.Named("target-api"),
	}
}

// List — GET /v1/targets: все цели текущего снапшота справочника.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.directory.List())
}

// Get — GET /v1/targets/{name}
func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	target, ok := h.directory.Lookup(name)
	if !ok {
		http.Error(w, "target not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(target)
}

// Isolation — GET /v1/targets/{name}/isolation: текущее состояние изоляции.
func (h *TargetHandler) Isolation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"target":   name,
		"isolated": h.isolation.IsIsolated(name),
	})
}

// Reload — POST /v1/config/reload: атомарная подмена снапшотов (цели, роли).
// Частичных обновлений нет: либо снапшот заменился целиком, либо остался старый.
func (h *TargetHandler) Reload(w http.ResponseWriter, r *http.Request) {
	for _, rl := range h.reloaders {
		if err := rl.Reload(); err != nil {
			h.logger.Error("config reload failed", zap.Error(err))
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	h.logger.Info("configuration snapshots reloaded")
	w.WriteHeader(http.StatusNoContent)
}
