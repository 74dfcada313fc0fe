package handler

import (
	"encoding/json"
	"net/http"

	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

func (h *Handler) handlePin(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}
	meta, err := h.node.Blobs.Pin(cid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) handleUnpin(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}
	meta, err := h.node.Blobs.Unpin(cid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) handleListPinned(w http.ResponseWriter, r *http.Request) {
	pinned, err := h.node.Blobs.ListPinnedBlobs()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned})
}

type bulkPinRequest struct {
	Operation string   `json:"operation"`
	CIDs      []string `json:"cids"`
}

type bulkPinResult struct {
	CID   string `json:"cid"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleBulkPin(w http.ResponseWriter, r *http.Request) {
	var req bulkPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "malformed JSON body"))
		return
	}
	if req.Operation != "pin" && req.Operation != "unpin" {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "operation must be \"pin\" or \"unpin\""))
		return
	}

	results := make([]bulkPinResult, 0, len(req.CIDs))
	for _, cid := range req.CIDs {
		if !validCID(cid) {
			results = append(results, bulkPinResult{CID: cid, OK: false, Error: "INVALID_REQUEST"})
			continue
		}
		var err error
		if req.Operation == "pin" {
			_, err = h.node.Blobs.Pin(cid)
		} else {
			_, err = h.node.Blobs.Unpin(cid)
		}
		if err != nil {
			kind, _ := vaulterr.As(err)
			results = append(results, bulkPinResult{CID: cid, OK: false, Error: kind.String()})
			continue
		}
		results = append(results, bulkPinResult{CID: cid, OK: true})
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
