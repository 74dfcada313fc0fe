package handler

import (
	"encoding/json"
	"net/http"

	"github.com/zynqcloud/vaultnode/internal/cidcodec"
	"github.com/zynqcloud/vaultnode/internal/node"
	"github.com/zynqcloud/vaultnode/internal/replication"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

// storeRequest is the wire shape of POST /store. appId and sender are not
// part of the JSON body — they ride in headers, the same out-of-band
// convention the teacher uses for caller identity on its upload route.
type storeRequest struct {
	Ciphertext string `json:"ciphertext"`
	MimeType   string `json:"mimeType"`
}

type storeResponse struct {
	CID                  string   `json:"cid"`
	ReplicationSuggested []string `json:"replicationSuggested"`
	StoredAt             int64    `json:"storedAt"`
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "malformed JSON body"))
		return
	}

	ciphertext, err := cidcodec.DecodeCiphertext(req.Ciphertext)
	if err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "ciphertext must be base64"))
		return
	}

	opts := node.StoreOptions{
		AppID:       r.Header.Get("X-App-Id"),
		Sender:      r.Header.Get("X-Sender"),
		ContentType: firstNonEmpty(r.Header.Get("X-Content-Type"), req.MimeType),
		GuildID:     r.Header.Get("X-Guild-Id"),
		ThreadID:    r.Header.Get("X-Thread-Id"),
		ParentCID:   r.Header.Get("X-Parent-Cid"),
		Pin:         r.Header.Get("X-Pin") == "true",
		Compress:    r.Header.Get("X-Compress") != "false",
	}

	result, err := h.node.Store(r.Context(), ciphertext, req.MimeType, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, storeResponse{
		CID:                  result.CID,
		ReplicationSuggested: result.ReplicationSuggested,
		StoredAt:             result.StoredAt,
	})
}

type replicateRequest struct {
	CID         string `json:"cid"`
	Ciphertext  string `json:"ciphertext"`
	MimeType    string `json:"mimeType"`
	FromPeer    string `json:"fromPeer"`
	ContentType string `json:"contentType,omitempty"`
	GuildID     string `json:"guildId,omitempty"`
}

type replicateResponse struct {
	Success       bool   `json:"success"`
	CID           string `json:"cid"`
	AlreadyStored bool   `json:"alreadyStored"`
}

func (h *Handler) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var req replicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "malformed JSON body"))
		return
	}

	ciphertext, err := cidcodec.DecodeCiphertext(req.Ciphertext)
	if err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "ciphertext must be base64"))
		return
	}
	if !cidcodec.VerifyCID(req.CID, ciphertext) {
		writeError(w, vaulterr.New(vaulterr.KindCIDMismatch, "recomputed cid does not match declared cid"))
		return
	}

	alreadyStored, err := h.node.AcceptReplicate(r.Context(), replication.ReplicateRequest{
		CID:         req.CID,
		Ciphertext:  ciphertext,
		MimeType:    req.MimeType,
		FromPeer:    req.FromPeer,
		ContentType: req.ContentType,
		GuildID:     req.GuildID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, replicateResponse{Success: true, CID: req.CID, AlreadyStored: alreadyStored})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
