package types

import (
	"context"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxProjectID ContextKey = "ctx_project_id"
	CtxUserID    ContextKey = "ctx_user_id"

	// Default values
	DefaultProjectID = "00000000-0000-0000-0000-000000000000"
	DefaultUserID    = "00000000-0000-0000-0000-000000000000"
)

func GetProjectID(ctx context.Context) string {
	if projectID, ok := ctx.Value(CtxProjectID).(string); ok {
		return projectID
	}
	return ""
}

func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(CtxUserID).(string); ok {
		return userID
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

// SetProjectID sets the project ID in the context
func SetProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, CtxProjectID, projectID)
}

// SetRequestID sets the request ID in the context
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}
