package api

import (
	"context"
	"maps"
)

// Credentials supply per-call authentication metadata.
type Credentials interface {
	RequestMetadata(ctx context.Context) (map[string]string, error)
}

// CallInfo is the per-call metadata attached to an outgoing request.
type CallInfo struct {
	Metadata    map[string]string
	Credentials Credentials
}

type callInfoKey struct{}

// WithCallInfo returns a context carrying info for the next outbound call.
// Metadata from an enclosing CallInfo is kept unless overridden.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	merged := CallInfo{Metadata: make(map[string]string)}
	if prev, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		maps.Copy(merged.Metadata, prev.Metadata)
		merged.Credentials = prev.Credentials
	}
	maps.Copy(merged.Metadata, info.Metadata)
	if info.Credentials != nil {
		merged.Credentials = info.Credentials
	}
	return context.WithValue(ctx, callInfoKey{}, merged)
}

// CallInfoFrom returns the call info attached to ctx, if any.
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}

// OutgoingMetadata flattens the metadata and credentials attached to ctx.
func OutgoingMetadata(ctx context.Context) (map[string]string, error) {
	info, ok := CallInfoFrom(ctx)
	if !ok {
		return nil, nil
	}
	md := make(map[string]string, len(info.Metadata)+1)
	maps.Copy(md, info.Metadata)
	if info.Credentials != nil {
		creds, err := info.Credentials.RequestMetadata(ctx)
		if err != nil {
			return nil, Errorf(CodeUnauthenticated, "credentials: %v", err)
		}
		maps.Copy(md, creds)
	}
	return md, nil
}

type incomingKey struct{}

// WithIncomingMetadata is used by servers to expose request metadata to
// handlers.
func WithIncomingMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, incomingKey{}, md)
}

// IncomingMetadata returns metadata a server received with the request.
func IncomingMetadata(ctx context.Context) map[string]string {
	md, _ := ctx.Value(incomingKey{}).(map[string]string)
	return md
}
