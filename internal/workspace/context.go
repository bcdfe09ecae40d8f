package workspace

import (
	"context"
	"errors"
)

// Key for workspace ID in context
type contextKey string

const (
	workspaceIDKey contextKey = "workspaceID"
	requestIDKey   contextKey = "requestID"
)

// ErrWorkspaceIDNotFound is returned when no workspace ID is found in context
var ErrWorkspaceIDNotFound = errors.New("workspace ID not found in context")

// WithWorkspaceID adds a workspace ID to the context
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// FromContext extracts the workspace ID from the context
func FromContext(ctx context.Context) (string, error) {
	workspaceID, ok := ctx.Value(workspaceIDKey).(string)
	if !ok || workspaceID == "" {
		return "", ErrWorkspaceIDNotFound
	}
	return workspaceID, nil
}

// MustFromContext extracts the workspace ID from the context or panics
func MustFromContext(ctx context.Context) string {
	workspaceID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return workspaceID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
