package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"collabchat/internal/app/directory"
	"collabchat/internal/app/store"
	"collabchat/internal/pkg/auth/jwt"
	"collabchat/internal/pkg/errs"
	"collabchat/internal/pkg/logx"
	"collabchat/internal/pkg/randx"
	"collabchat/internal/pkg/resp"
)

const (
	// streamHeartbeatInterval spaces out SSE comment lines so intermediaries
	// do not drop an otherwise quiet connection.
	streamHeartbeatInterval = 15 * time.Second

	// streamBufferSize is the per-subscriber event buffer. A consumer that
	// falls this far behind is disconnected rather than blocking the log.
	streamBufferSize = 64

	// streamSnapshotLimit is the size of the initial history snapshot.
	streamSnapshotLimit = 200
)

// HandleGroupStream serves the group's durable log over Server-Sent Events.
// The stream opens with a "snapshot" event carrying recent history, then
// emits one "message" event per newly committed message in commit order.
// Clients use it to reconcile real-time traffic against durable state.
func HandleGroupStream(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthenticationFailed))
			return
		}

		code := chi.URLParam(r, "code")
		if !randx.IsValidGroupCode(code) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		isMember, err := deps.Directory.IsMember(r.Context(), code, identity.UserID)
		if err != nil {
			if errors.Is(err, directory.ErrGroupNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrGroupNotFound))
				return
			}
			logx.Error(err, "Membership lookup failed", "group_code", code)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if !isMember {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupMember))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		// Subscribe before reading the snapshot so no commit falls between
		// the two. The snapshot and the live feed may overlap; consumers
		// dedup by message id.
		events := make(chan store.Message, streamBufferSize)
		cancel := deps.Store.Subscribe(code, func(msg store.Message) {
			select {
			case events <- msg:
			default:
				// Buffer full; the consumer loop notices and disconnects.
			}
		})
		defer cancel()

		snapshot, err := deps.Store.History(r.Context(), code, streamSnapshotLimit)
		if err != nil {
			logx.Error(err, "Stream snapshot read failed", "group_code", code)
			resp.RespondError(w, r, errs.NewError(errs.ErrSubscriptionDegraded))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeSSE(w, "snapshot", snapshot); err != nil {
			return
		}
		flusher.Flush()

		logx.Info("Durable stream opened", "group_code", code, "user_id", identity.UserID)

		heartbeat := time.NewTicker(streamHeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				logx.Info("Durable stream closed by client", "group_code", code, "user_id", identity.UserID)
				return
			case msg := <-events:
				if err := writeSSE(w, "message", msg); err != nil {
					return
				}
				flusher.Flush()
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// writeSSE emits a single named SSE event with a JSON data payload.
func writeSSE(w http.ResponseWriter, event string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
	return err
}
