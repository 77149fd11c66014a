package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims carried by CollabChat identity tokens.
// Tokens are issued by the portal's identity provider; this engine only
// validates them and reads identity fields out of them.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer), used for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the portal-wide identifier of the participant.
	UserID string `json:"userId"`

	// DisplayName is the name rendered next to the participant's messages.
	DisplayName string `json:"displayName"`

	// GroupCode, when present, scopes the token to a single group. Group-scoped
	// tokens are issued by the join endpoint and accepted by the WebSocket handler.
	GroupCode string `json:"groupCode,omitempty"`
}
