package video

import (
	"context"
	"errors"
)

// ErrProviderFailure wraps any room/token failure at the provider boundary.
// Acceptance treats it as fatal for that attempt; no session state changes.
var ErrProviderFailure = errors.New("video: provider failure")

// Room is a provider-agnostic session room.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider is the narrow contract the session protocol depends on.
//
// Rules:
// - No provider SDK/REST calls outside video adapters.
// - CreateRoom must be idempotent: creating a room whose name already exists
//   returns the existing room rather than erroring.
type Provider interface {
	Name() string
	CreateRoom(ctx context.Context, name string) (Room, error)
	GenerateToken(ctx context.Context, identity, roomID string) (string, error)
}
