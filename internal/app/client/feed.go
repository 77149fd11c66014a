/*
Package client implements the client side of the group messaging engine.

This file defines the DurableFeed, the client end of a group's durable log
subscription. It consumes the server's SSE stream, one snapshot event
followed by incremental message events in commit order, and applies it to
the Reconciler. The real-time channel may be down entirely; the feed alone
keeps the timeline advancing (typing indicators simply stop updating).
*/
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"collabchat/internal/app/store"
	"collabchat/internal/pkg/logx"
)

// SSE event names emitted by the group stream endpoint.
const (
	feedEventSnapshot = "snapshot"
	feedEventMessage  = "message"
)

// DurableFeed streams one group's durable log into a Reconciler.
type DurableFeed struct {
	// URL of the group's stream endpoint.
	URL string

	// Token is the identity token presented as a Bearer credential.
	Token string

	// GroupID the feed belongs to.
	GroupID string

	// HTTPClient overrides http.DefaultClient when set.
	HTTPClient *http.Client

	logger zerolog.Logger
}

// NewDurableFeed constructs a feed for one group.
func NewDurableFeed(url, token, groupID string) *DurableFeed {
	return &DurableFeed{
		URL:     url,
		Token:   token,
		GroupID: groupID,
		logger: logx.Logger().With().
			Str("component", "DurableFeed").
			Str("group_id", groupID).
			Logger(),
	}
}

// Run connects and streams until the context is canceled or the stream
// fails. On failure the Reconciler is marked degraded (StaleDataWarning) and
// the error is returned; the caller owns the retry policy. The last
// known-good timeline is never cleared.
func (f *DurableFeed) Run(ctx context.Context, r *Reconciler) error {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		r.ApplyDurableError(f.GroupID, err)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		r.ApplyDurableError(f.GroupID, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		r.ApplyDurableError(f.GroupID, ErrReauthRequired)
		return ErrReauthRequired
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("durable feed: unexpected status %d", resp.StatusCode)
		r.ApplyDurableError(f.GroupID, err)
		return err
	}

	if err := f.consume(resp.Body, r); err != nil {
		if ctx.Err() != nil {
			// Deliberate cancellation (leaving the group) is not degradation.
			return ctx.Err()
		}
		r.ApplyDurableError(f.GroupID, err)
		return err
	}

	return nil
}

// consume parses the SSE stream and applies events in arrival order, which
// the server guarantees to be commit order.
func (f *DurableFeed) consume(body io.Reader, r *Reconciler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data strings.Builder

	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		defer func() {
			event = ""
			data.Reset()
		}()

		switch event {
		case feedEventSnapshot:
			var messages []store.Message
			if err := json.Unmarshal([]byte(data.String()), &messages); err != nil {
				return fmt.Errorf("durable feed: bad snapshot: %w", err)
			}
			r.ApplyDurableSnapshot(f.GroupID, messages)

		case feedEventMessage:
			var msg store.Message
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				return fmt.Errorf("durable feed: bad message: %w", err)
			}
			r.ApplyDurable(f.GroupID, msg)

		default:
			f.logger.Debug().Str("event", event).Msg("Ignoring unknown stream event.")
		}

		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}

		case strings.HasPrefix(line, ":"):
			// heartbeat comment

		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return fmt.Errorf("durable feed: stream ended")
}
