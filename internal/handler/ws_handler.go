package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"collabchat/internal/app/chat"
	"collabchat/internal/app/member"
	"collabchat/internal/pkg/auth/jwt"
	"collabchat/internal/pkg/errs"
	"collabchat/internal/pkg/limiter"
	"collabchat/internal/pkg/logx"
	"collabchat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection
// requests. A single connection serves all of the user's groups: frames carry
// the group identifier, so the endpoint is not parameterized by group code.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			rateLimitErr := errs.NewError(errs.ErrRateLimitExceeded)
			resp.RespondError(w, r, rateLimitErr)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			logx.Warn("WebSocket request rejected: Missing access token", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthenticationFailed))
			return
		}

		payload, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket request rejected: Invalid access token", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthenticationFailed))
			return
		}

		currentMember := member.Member{
			UserID:      payload.UserID,
			DisplayName: payload.DisplayName,
		}

		logx.Info("Attempting to upgrade connection", "user_id", currentMember.UserID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Manager, deps.Store, deps.Directory, conn, currentMember)

		go client.WritePump()

		logx.Info("WebSocket connection established", "user_id", currentMember.UserID)

		client.ReadPump()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
