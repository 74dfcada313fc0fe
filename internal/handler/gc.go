package handler

import (
	"net/http"
)

func (h *Handler) handleGCStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.node.GC.IsRunning()})
}

func (h *Handler) handleRunGC(w http.ResponseWriter, r *http.Request) {
	simulate := r.URL.Query().Get("simulate") != "false"

	result, err := h.node.GC.RunGC(r.Context(), simulate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
