// Package handler is the HTTP adapter over internal/node: thin,
// stateless request handlers that decode JSON, call into the node, and
// translate a vaulterr.Kind into the right status code and error body.
// Grounded on the teacher's routes.go ServeMux method+path pattern
// style and its RequestLog/ServiceToken middleware composition.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/zynqcloud/vaultnode/internal/config"
	"github.com/zynqcloud/vaultnode/internal/metrics"
	"github.com/zynqcloud/vaultnode/internal/middleware"
	"github.com/zynqcloud/vaultnode/internal/node"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

// timeNowMillis is the single seam handlers use to stamp request-time
// values, kept here so tests can see where wall-clock reads happen.
func timeNowMillis() int64 { return time.Now().UnixMilli() }

// defaultMaxConcurrentRequests bounds in-flight store/replicate requests,
// each of which holds a ciphertext buffer in memory for the duration of
// the call.
const defaultMaxConcurrentRequests = 256

// Handler holds everything a request handler needs. All fields are
// read-only after construction; mutable state lives in node.Node.
type Handler struct {
	node    *node.Node
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the full HTTP handler tree for a vault node.
func New(n *node.Node, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	h := &Handler{node: n, cfg: cfg, metrics: m, logger: logger}
	limiter := middleware.NewConcurrencyLimiter(defaultMaxConcurrentRequests)

	mux := http.NewServeMux()

	mux.Handle("POST /store", limiter.Limit(http.HandlerFunc(h.handleStore)))
	mux.Handle("POST /replicate", limiter.Limit(http.HandlerFunc(h.handleReplicate)))
	mux.HandleFunc("GET /blob/{cid}", h.handleGetBlob)

	mux.HandleFunc("POST /proofs/generate", h.handleGenerateProof)
	mux.HandleFunc("POST /proofs/verify", h.handleVerifyProof)

	mux.HandleFunc("POST /feed", h.handleCreateFeed)
	mux.HandleFunc("POST /feed/{id}/entry", h.handleAddFeedEntry)
	mux.HandleFunc("GET /feed/{id}", h.handleGetFeedEvents)
	mux.HandleFunc("GET /feed/{id}/blobs", h.handleGetFeedBlobs)
	mux.HandleFunc("GET /feed/{id}/validate", h.handleValidateFeed)
	mux.HandleFunc("POST /feed/{id}/resolve-forks", h.handleResolveForks)

	mux.HandleFunc("POST /pin/{cid}", h.handlePin)
	mux.HandleFunc("DELETE /pin/{cid}", h.handleUnpin)
	mux.HandleFunc("GET /pin/list", h.handleListPinned)
	mux.HandleFunc("POST /pin/bulk", h.handleBulkPin)
	mux.HandleFunc("GET /status/{cid}", h.handleBlobStatus)

	mux.HandleFunc("GET /gc/status", h.handleGCStatus)

	mux.HandleFunc("GET /node/info", h.handleNodeInfo)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /shard/stats", h.handleShardStats)

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", m.Handler())
		mux.HandleFunc("GET /metrics/legacy", h.handleLegacyMetrics)
	}

	admin := middleware.ServiceToken(cfg.ServiceToken)
	mux.Handle("DELETE /blob/{cid}", admin(http.HandlerFunc(h.handleDeleteBlob)))
	mux.Handle("POST /admin/gc", admin(http.HandlerFunc(h.handleRunGC)))
	mux.Handle("POST /admin/ban/{cid}", admin(http.HandlerFunc(h.handleBan)))
	mux.Handle("DELETE /admin/ban/{cid}", admin(http.HandlerFunc(h.handleUnban)))

	return middleware.RequestLog(logger)(mux)
}

// errorBody is the uniform JSON shape for a failed request.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON marshals v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps err's vaulterr.Kind to a status code and machine error
// code, the only place in this package that does that translation.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := vaulterr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "INTERNAL"})
		return
	}

	status, code := statusFor(kind)
	writeJSON(w, status, errorBody{Error: code})
}

func statusFor(kind vaulterr.Kind) (int, string) {
	switch kind {
	case vaulterr.KindInvalidRequest:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case vaulterr.KindCIDMismatch:
		return http.StatusBadRequest, "CID_MISMATCH"
	case vaulterr.KindInvalidSignature:
		return http.StatusBadRequest, "INVALID_SIGNATURE"
	case vaulterr.KindProofStale:
		return http.StatusBadRequest, "PROOF_STALE"
	case vaulterr.KindProofInFuture:
		return http.StatusBadRequest, "PROOF_IN_FUTURE"
	case vaulterr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case vaulterr.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case vaulterr.KindContentTypeRejected:
		return http.StatusForbidden, "CONTENT_TYPE_REJECTED"
	case vaulterr.KindGuildBlocked:
		return http.StatusForbidden, "GUILD_BLOCKED"
	case vaulterr.KindFeedUnauthorized:
		return http.StatusForbidden, "FEED_UNAUTHORIZED"
	case vaulterr.KindBlobBanned:
		return http.StatusForbidden, "BLOB_BANNED"
	case vaulterr.KindBlobNotFound:
		return http.StatusNotFound, "BLOB_NOT_FOUND"
	case vaulterr.KindFeedNotFound:
		return http.StatusNotFound, "FEED_NOT_FOUND"
	case vaulterr.KindFeedExists:
		return http.StatusConflict, "FEED_EXISTS"
	case vaulterr.KindGCAlreadyRunning:
		return http.StatusConflict, "GC_ALREADY_RUNNING"
	case vaulterr.KindNodeNotConfigured:
		return http.StatusServiceUnavailable, "NODE_NOT_CONFIGURED"
	case vaulterr.KindNodeNotRegistered:
		return http.StatusServiceUnavailable, "NODE_NOT_REGISTERED"
	case vaulterr.KindRegistrationCheckFailed:
		return http.StatusServiceUnavailable, "REGISTRATION_CHECK_FAILED"
	case vaulterr.KindCapacityExceeded:
		return http.StatusInsufficientStorage, "CAPACITY_EXCEEDED"
	case vaulterr.KindStorageFull:
		return http.StatusInsufficientStorage, "STORAGE_FULL"
	case vaulterr.KindMetadataTampered:
		return http.StatusInternalServerError, "METADATA_TAMPERED"
	case vaulterr.KindReplicationStateTampered:
		return http.StatusInternalServerError, "REPLICATION_STATE_TAMPERED"
	case vaulterr.KindEnvironmentMismatch:
		return http.StatusInternalServerError, "ENVIRONMENT_MISMATCH"
	case vaulterr.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
