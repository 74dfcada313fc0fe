package handler

import (
	"encoding/base64"
	"net/http"
	"regexp"

	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

var cidPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func validCID(cid string) bool { return cidPattern.MatchString(cid) }

type blobResponse struct {
	CID        string `json:"cid"`
	Ciphertext string `json:"ciphertext"`
	MimeType   string `json:"mimeType"`
	CreatedAt  int64  `json:"createdAt"`
	Size       int64  `json:"size"`
	Version    int    `json:"version"`
}

func (h *Handler) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}

	ciphertext, meta, err := h.node.Retrieve(cid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, blobResponse{
		CID:        meta.CID,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		MimeType:   meta.MimeType,
		CreatedAt:  meta.CreatedAt,
		Size:       meta.Size,
		Version:    meta.Version,
	})
}

func (h *Handler) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if err := h.node.GC.DeleteSingleBlob(r.Context(), cid, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cid": cid, "deleted": true})
}

func (h *Handler) handleBlobStatus(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if !validCID(cid) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}

	meta, err := h.node.Blobs.GetMetadata(cid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
