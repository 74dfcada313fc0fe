package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zynqcloud/vaultnode/internal/proof"
)

// HTTPPeer is the fallback transport when a node has no P2P capability:
// it speaks the plain §6 /replicate JSON contract over net/http, the
// same client shape the teacher's cmd/server uses for its own outbound
// calls (a shared *http.Client, explicit context per request).
type HTTPPeer struct {
	nodeID string
	url    string
	client *http.Client
}

// NewHTTPPeer builds an HTTPPeer addressed at url.
func NewHTTPPeer(nodeID, url string, client *http.Client) *HTTPPeer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPeer{nodeID: nodeID, url: url, client: client}
}

func (p *HTTPPeer) NodeID() string    { return p.nodeID }
func (p *HTTPPeer) URL() string       { return p.url }
func (p *HTTPPeer) SupportsP2P() bool { return false }

type replicatePayload struct {
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

// Replicate POSTs the blob to peer's /replicate endpoint.
func (p *HTTPPeer) Replicate(ctx context.Context, req ReplicateRequest) error {
	payload := replicatePayload{
		CID:         req.CID,
		Ciphertext:  EncodeCiphertext(req.Ciphertext),
		MimeType:    req.MimeType,
		FromPeer:    req.FromPeer,
		ContentType: req.ContentType,
		GuildID:     req.GuildID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("replication: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/replicate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("replication: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("replication: request to %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("replication: peer %s returned status %d", p.url, resp.StatusCode)
	}

	var out replicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("replication: decode response from %s: %w", p.url, err)
	}
	if !out.Success {
		return fmt.Errorf("replication: peer %s reported failure for cid %s", p.url, req.CID)
	}
	return nil
}

// FetchBlob retrieves a blob directly from peer, for use when this node
// needs to pull a CID it doesn't hold locally.
func (p *HTTPPeer) FetchBlob(ctx context.Context, cid string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/blob/"+cid, nil)
	if err != nil {
		return nil, fmt.Errorf("replication: build fetch request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replication: fetch from %s: %w", p.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("replication: peer %s returned status %d for fetch", p.url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type generateProofPayload struct {
	CID string `json:"cid"`
}

type generateProofResult struct {
	NodeID    string `json:"nodeId"`
	Proof     string `json:"proof"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
	Challenge string `json:"challenge"`
	CID       string `json:"cid"`
}

// FetchProof asks peer to generate a fresh storage proof for cid via its
// /proofs/generate endpoint.
func (p *HTTPPeer) FetchProof(ctx context.Context, cid string) (proof.StorageProof, error) {
	body, err := json.Marshal(generateProofPayload{CID: cid})
	if err != nil {
		return proof.StorageProof{}, fmt.Errorf("replication: marshal proof request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/proofs/generate", bytes.NewReader(body))
	if err != nil {
		return proof.StorageProof{}, fmt.Errorf("replication: build proof request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return proof.StorageProof{}, fmt.Errorf("replication: proof request to %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return proof.StorageProof{}, fmt.Errorf("replication: peer %s returned status %d for proof", p.url, resp.StatusCode)
	}

	var out generateProofResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return proof.StorageProof{}, fmt.Errorf("replication: decode proof from %s: %w", p.url, err)
	}
	return proof.StorageProof{
		CID:       out.CID,
		NodeID:    out.NodeID,
		Timestamp: out.Timestamp,
		Challenge: out.Challenge,
		Signature: out.Proof,
		PublicKey: out.PublicKey,
	}, nil
}

// Health pings peer's health endpoint.
func (p *HTTPPeer) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("replication: peer %s unhealthy: status %d", p.url, resp.StatusCode)
	}
	return nil
}

// Info fetches peer's /node/info document.
func (p *HTTPPeer) Info(ctx context.Context) (map[string]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/node/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("replication: peer %s info returned status %d", p.url, resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("replication: decode info from %s: %w", p.url, err)
	}
	return out, nil
}
