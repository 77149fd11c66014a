/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Group and Messaging Business Logic Errors
	ErrGroupCodeExists:       {Code: ErrGroupCodeExists, Message: "Group code already exists."},
	ErrGroupNotFound:         {Code: ErrGroupNotFound, Message: "Group not found.", Status: http.StatusNotFound},
	ErrGroupNameRequired:     {Code: ErrGroupNameRequired, Message: "Group name is required."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageEmpty:          {Code: ErrMessageEmpty, Message: "Message cannot be empty."},
	ErrMessageWriteFailed:    {Code: ErrMessageWriteFailed, Message: "Message failed to send. Please retry."},

	// 3xxx: Identity, Session, and Security Errors
	ErrAuthenticationFailed: {Code: ErrAuthenticationFailed, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrSessionKicked:        {Code: ErrSessionKicked, Message: "You were signed in on another device."},
	ErrNotGroupMember:       {Code: ErrNotGroupMember, Message: "Join the group before posting.", Status: http.StatusForbidden},

	// 5xxx: Internal System Errors
	ErrUnknown:              {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrSubscriptionDegraded: {Code: ErrSubscriptionDegraded, Message: "Live updates are temporarily degraded."},
}
