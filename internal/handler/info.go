package handler

import (
	"net/http"
)

func (h *Handler) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.node.Info(r.Context()))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleShardStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.node.ShardStats())
}

// legacyStatsResponse is the teacher's flat, un-namespaced status
// document, kept alongside the Prometheus /metrics endpoint at /metrics/legacy
// since both are required and a Prometheus exposition-format body and a
// JSON document cannot share one path.
type legacyStatsResponse struct {
	NodeID         string `json:"nodeId"`
	TotalBlobs     int    `json:"totalBlobs"`
	TotalBytes     int64  `json:"totalBytes"`
	PinnedBlobs    int    `json:"pinnedBlobs"`
	PinnedBytes    int64  `json:"pinnedBytes"`
	FreeBytes      int64  `json:"freeBytes"`
	GCRunning      bool   `json:"gcRunning"`
	ReputationNodes int   `json:"reputationNodes"`
	ReputationAvg  float64 `json:"reputationAvgScore"`
}

func (h *Handler) handleLegacyMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.node.Blobs.GetStats()
	if err != nil {
		writeError(w, err)
		return
	}
	rep := h.node.Reputation.ClusterSummary()

	writeJSON(w, http.StatusOK, legacyStatsResponse{
		NodeID:          h.node.ID(),
		TotalBlobs:      stats.TotalBlobs,
		TotalBytes:      stats.TotalBytes,
		PinnedBlobs:     stats.PinnedCount,
		PinnedBytes:     stats.PinnedBytes,
		FreeBytes:       stats.FreeBytes,
		GCRunning:       h.node.GC.IsRunning(),
		ReputationNodes: rep.UniqueNodes,
		ReputationAvg:   rep.AvgScore,
	})
}
