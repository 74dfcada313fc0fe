package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zynqcloud/vaultnode/internal/feed"
	"github.com/zynqcloud/vaultnode/internal/indexer"
	"github.com/zynqcloud/vaultnode/internal/vaulterr"
)

type createFeedRequest struct {
	FeedID   string   `json:"feedId"`
	FeedType string   `json:"feedType"`
	Writers  []string `json:"writers"`
}

func (h *Handler) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedID == "" {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "feedId and writers are required"))
		return
	}

	now := timeNowMillis()
	if err := h.node.Feed.CreateFeed(req.FeedID, feed.Type(req.FeedType), req.Writers, now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feedId": req.FeedID, "createdAt": now})
}

func (h *Handler) handleAddFeedEntry(w http.ResponseWriter, r *http.Request) {
	feedID := r.PathValue("id")

	var entry feed.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, vaulterr.New(vaulterr.KindInvalidRequest, "malformed feed entry"))
		return
	}
	entry.FeedID = feedID

	if err := h.node.Feed.AddEntry(entry, h.node.Blobs.Exists); err != nil {
		writeError(w, err)
		return
	}

	meta, _ := h.node.Feed.Metadata(feedID)
	if blobMeta, err := h.node.Blobs.GetMetadata(entry.CID); err == nil {
		entryType := indexer.TypeMessage
		if entry.EventType != "" {
			entryType = indexer.EntryType(entry.EventType)
		}
		h.node.Indexer.Add(indexer.Entry{
			CID:       entry.CID,
			Type:      entryType,
			ThreadID:  feedID,
			ParentCID: entry.ParentCID,
			Timestamp: entry.Timestamp,
			Size:      blobMeta.Size,
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{"feedId": feedID, "cid": entry.CID, "entryCount": meta.EntryCount})
}

func (h *Handler) handleGetFeedEvents(w http.ResponseWriter, r *http.Request) {
	feedID := r.PathValue("id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var cursor *feed.Cursor
	if v := r.URL.Query().Get("cursor"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cursor = &feed.Cursor{Index: n}
		}
	}

	page, err := h.node.Feed.GetFeedEvents(feedID, limit, cursor)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"events": page.Events, "hasMore": page.HasMore}
	if page.Cursor != nil {
		resp["cursor"] = page.Cursor.Index
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetFeedBlobs(w http.ResponseWriter, r *http.Request) {
	feedID := r.PathValue("id")
	cids, err := h.node.Feed.GetFeedBlobs(feedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedId": feedID, "cids": cids})
}

func (h *Handler) handleValidateFeed(w http.ResponseWriter, r *http.Request) {
	feedID := r.PathValue("id")
	res, err := h.node.Feed.ValidateFeed(feedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResolveForks(w http.ResponseWriter, r *http.Request) {
	feedID := r.PathValue("id")
	res, err := h.node.Feed.ResolveForks(feedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
