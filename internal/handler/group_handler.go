/*
Package handler provides the HTTP handlers and routing setup for the CollabChat server.

This file contains the community-group handlers: group creation, membership
join (which issues group-scoped access tokens and fires the first-join
notification), and message history reads.
*/
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"collabchat/internal/app/directory"
	"collabchat/internal/app/member"
	"collabchat/internal/app/notify"
	"collabchat/internal/pkg/auth/jwt"
	"collabchat/internal/pkg/errs"
	"collabchat/internal/pkg/logx"
	"collabchat/internal/pkg/randx"
	"collabchat/internal/pkg/req"
	"collabchat/internal/pkg/resp"
)

const (
	// defaultHistoryLimit is returned when the caller does not ask for a page size.
	defaultHistoryLimit = 100

	// maxHistoryLimit caps a single history page.
	maxHistoryLimit = 500

	// notifyTimeout bounds the fire-and-forget notification call.
	notifyTimeout = 10 * time.Second

	// maxCodeAttempts bounds how many random codes creation tries before
	// reporting a collision.
	maxCodeAttempts = 5
)

// CreateGroupInput is the request body for group creation.
type CreateGroupInput struct {
	Name             string `json:"name"`
	Topic            string `json:"topic,omitempty"`
	AffiliationScope string `json:"affiliationScope,omitempty"`
}

// HandleCreateGroup creates an HTTP HandlerFunc to process group creation requests.
func HandleCreateGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthenticationFailed))
			return
		}

		var input CreateGroupInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Name == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrGroupNameRequired))
			return
		}

		// Codes are random, so a collision is rare; retry a few times
		// before giving up.
		var code string
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			candidate, err := randx.GroupCode()
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}

			_, err = deps.Directory.GetGroup(r.Context(), candidate)
			if errors.Is(err, directory.ErrGroupNotFound) {
				code = candidate
				break
			}
			if err != nil {
				logx.Error(err, "Group code lookup failed", "group_code", candidate)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
		}
		if code == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrGroupCodeExists))
			return
		}

		group := directory.Group{
			Code:             code,
			Name:             input.Name,
			Topic:            input.Topic,
			AffiliationScope: input.AffiliationScope,
		}

		if err := deps.Directory.CreateGroup(r.Context(), group); err != nil {
			logx.Error(err, "Group creation failed", "group_code", code)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"groupCode": code,
		})
	}
}

// HandleJoinGroup records membership in a group. Joins are idempotent: the
// membership record and member count change at most once per user, and the
// first-join notification fires exactly once. Every successful call returns a
// fresh group-scoped access token for the real-time channel.
func HandleJoinGroup(deps *AppDeps) http.HandlerFunc {
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

		m := member.Member{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
		}

		firstJoin, err := deps.Directory.Join(r.Context(), code, m)
		if err != nil {
			if errors.Is(err, directory.ErrGroupNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrGroupNotFound))
				return
			}
			logx.Error(err, "Membership join failed", "group_code", code, "user_id", m.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		if firstJoin {
			group, lookupErr := deps.Directory.GetGroup(r.Context(), code)
			if lookupErr != nil {
				group = directory.Group{Code: code}
			}

			// Fire-and-forget: the email system is informed out-of-band and
			// must never delay or fail the join.
			go func(evt notify.JoinEvent) {
				ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
				defer cancel()
				deps.Notifier.MemberJoined(ctx, evt)
			}(notify.JoinEvent{
				GroupCode:   code,
				GroupName:   group.Name,
				UserID:      m.UserID,
				DisplayName: m.DisplayName,
			})
		}

		payload := &jwt.Payload{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			GroupCode:   code,
		}

		tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.GroupAccessExpiration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		memberCount, err := deps.Directory.MemberCount(r.Context(), code)
		if err != nil {
			memberCount = 0
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":       tokenString,
			"firstJoin":   firstJoin,
			"memberCount": memberCount,
		})
	}
}

// HandleGroupMessages returns a page of the group's durable log in timeline order.
func HandleGroupMessages(deps *AppDeps) http.HandlerFunc {
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

		limit := defaultHistoryLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, parseErr := strconv.Atoi(limitStr)
			if parseErr != nil || parsed <= 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = parsed
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		messages, err := deps.Store.History(r.Context(), code, limit)
		if err != nil {
			logx.Error(err, "History read failed", "group_code", code)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": messages,
		})
	}
}
