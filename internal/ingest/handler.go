package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"botrelay/internal/credential"
	"botrelay/internal/relay"
	logx "botrelay/pkg/logx"
)

const apiKeyHeader = "x-api-key"

type notifyRequest struct {
	TargetID int64  `json:"target_id"`
	Message  string `json:"message"`
	Format   string `json:"format,omitempty"`
	Source   string `json:"source,omitempty"`
}

// handleNotify authenticates the caller, stamps the resolved delivery token
// and timestamp onto the record, and appends it to the destination's
// partition. 202 means "buffered", nothing more; there is no dedup, so a
// client retry after a timeout produces a duplicate entry.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.Header.Get(apiKeyHeader)
	id, err := s.gate.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			// Unknown and revoked keys get the identical response.
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		s.log.Error("credential lookup failed", logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.TargetID == 0 || req.Message == "" {
		http.Error(w, "target_id and message are required", http.StatusBadRequest)
		return
	}
	if req.Source != "" && req.Source != "telegram" {
		http.Error(w, "unsupported source", http.StatusBadRequest)
		return
	}
	mode, err := relay.ParseModeFrom(req.Format)
	if err != nil {
		http.Error(w, "invalid format", http.StatusBadRequest)
		return
	}

	n := relay.Notification{
		TargetID:   req.TargetID,
		Message:    req.Message,
		Format:     mode,
		BotToken:   id.Token,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	payload, err := n.Encode()
	if err != nil {
		s.log.Error("encode notification failed", logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	partition := relay.PartitionKey(id.Token, n.TargetID)
	if err := s.store.Append(ctx, partition, payload); err != nil {
		// Transient store failure; the caller may retry the whole request.
		s.log.Error("buffer append failed",
			logx.String("partition", partition), logx.Err(err))
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	s.log.Debug("notification buffered",
		logx.Int64("target_id", n.TargetID),
		logx.Int64("bot_id", id.BotID),
		logx.String("partition", partition))

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}
