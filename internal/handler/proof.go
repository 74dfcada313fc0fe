package handler

import (
	"encoding/json"
	"net/http"

	"github.com/zynqcloud/vaultnode/internal/proof"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

type generateProofRequest struct {
	CID string `json:"cid"`
}

type generateProofResponse struct {
	NodeID    string `json:"nodeId"`
	Proof     string `json:"proof"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
	Challenge string `json:"challenge"`
	CID       string `json:"cid"`
}

func (h *Handler) handleGenerateProof(w http.ResponseWriter, r *http.Request) {
	var req generateProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validCID(req.CID) {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "cid must match ^[0-9a-f]{64}$"))
		return
	}

	sp, err := h.node.GenerateProof(req.CID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateProofResponse{
		NodeID:    sp.NodeID,
		Proof:     sp.Signature,
		PublicKey: sp.PublicKey,
		Timestamp: sp.Timestamp,
		Challenge: sp.Challenge,
		CID:       sp.CID,
	})
}

type verifyProofRequest struct {
	CID       string `json:"cid"`
	NodeID    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"`
	Challenge string `json:"challenge"`
	Proof     string `json:"proof"`
	PublicKey string `json:"publicKey"`
}

type verifyProofResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "malformed JSON body"))
		return
	}

	sp := proof.StorageProof{
		CID:       req.CID,
		NodeID:    req.NodeID,
		Timestamp: req.Timestamp,
		Challenge: req.Challenge,
		Signature: req.Proof,
		PublicKey: req.PublicKey,
	}
	valid, reason := h.node.VerifyProof(sp, req.PublicKey)
	writeJSON(w, http.StatusOK, verifyProofResponse{Valid: valid, Reason: reason})
}
