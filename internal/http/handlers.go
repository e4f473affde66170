package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/tpvsync/internal/audit"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/queue
func (h *handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.deps.Queue.DrainInOrder(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"size":     len(pending),
		"capacity": h.deps.Queue.Capacity(),
		"pending":  pending,
	})
}

// GET /v1/queue/dead-letter
func (h *handlers) deadLetterList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.DLQ.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

// POST /v1/queue/dead-letter/{id}/retry
//
// Devuelve la entrada a la cola con retry_count en 0. Respeta el límite de
// capacidad: con la cola llena respondemos 409 y el item queda donde estaba.
func (h *handlers) deadLetterRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	size, err := h.deps.Queue.Size(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if size >= h.deps.Queue.Capacity() {
		WriteError(w, http.StatusConflict, "queue_full", "la cola está a capacidad, reintentar más tarde")
		return
	}

	if err := h.deps.DLQ.Requeue(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "dead-letter no encontrada")
			return
		}
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	audit.Log(ctx, "deadletter.retry", map[string]any{"mutation_id": id})
	h.deps.Syncer.Kick()
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "requeued", "id": id})
}

// DELETE /v1/queue/dead-letter/{id}
func (h *handlers) deadLetterDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.deps.DLQ.Delete(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "dead-letter no encontrada")
			return
		}
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	audit.Log(ctx, "deadletter.delete", map[string]any{"mutation_id": id})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// GET /v1/queue/corrupted
func (h *handlers) corruptedList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Corrupted.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

// DELETE /v1/queue/corrupted/{id}
func (h *handlers) corruptedDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.deps.Corrupted.Delete(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "entrada no encontrada")
			return
		}
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	audit.Log(ctx, "corrupted.delete", map[string]any{"mutation_id": id})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// GET /v1/sync/status
func (h *handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	size, err := h.deps.Queue.Size(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"state":      h.deps.Syncer.State().String(),
		"queue_size": size,
	})
}

// POST /v1/sync/kick
func (h *handlers) syncKick(w http.ResponseWriter, r *http.Request) {
	audit.Log(r.Context(), "sync.kick", nil)
	h.deps.Syncer.Kick()
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "kicked"})
}
