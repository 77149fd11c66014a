/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both inside the
server and in responses sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Group and Messaging Business Logic Errors
const (
	// ErrGroupCodeExists indicates that the attempted group code for creation already exists.
	ErrGroupCodeExists = 2101

	// ErrGroupNotFound indicates that the requested group does not exist.
	ErrGroupNotFound = 2102

	// ErrGroupNameRequired indicates that a group was submitted without a name.
	ErrGroupNameRequired = 2103

	// ErrMessageContentTooLong indicates that the message body exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates that a message was submitted with an empty body.
	ErrMessageEmpty = 2202

	// ErrMessageWriteFailed indicates that a message could not be durably persisted.
	// The sender should retry with the same dedup key.
	ErrMessageWriteFailed = 2203
)

// 3xxx: Identity, Session, and Security Errors
const (
	// ErrAuthenticationFailed indicates a missing, malformed, or expired identity token.
	// The caller must obtain a fresh token and retry; the engine never refreshes tokens.
	ErrAuthenticationFailed = 3001

	// ErrSessionKicked indicates that the current connection was replaced by a newer one.
	ErrSessionKicked = 3002

	// ErrNotGroupMember indicates an operation attempted against a group the caller has not joined.
	ErrNotGroupMember = 3003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrSubscriptionDegraded indicates that the durable subscription for a group
	// is temporarily unavailable; previously delivered data remains valid.
	ErrSubscriptionDegraded = 5001
)
