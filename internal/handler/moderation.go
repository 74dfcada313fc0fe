package handler

import "net/http"

// handleBan and handleUnban are the moderation override admin tooling
// uses to block a CID from retrieval without deleting it outright —
// useful when content must be suppressed pending a GC pass or a legal
// hold, independent of pin/replication state.
func (h *Handler) handleBan(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "INVALID_REQUEST"})
		return
	}
	if err := h.node.Ban(cid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cid": cid, "banned": true})
}

func (h *Handler) handleUnban(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "INVALID_REQUEST"})
		return
	}
	if err := h.node.Unban(cid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cid": cid, "banned": false})
}
