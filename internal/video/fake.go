package video

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is an in-process Provider for tests, with failure injection.
// Rooms are idempotent by name, like the real adapter.
type FakeProvider struct {
	mu    sync.Mutex
	rooms map[string]Room

	// Fail makes every call return ErrProviderFailure.
	Fail bool

	CreateCalls int
	TokenCalls  int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{rooms: map[string]Room{}}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) CreateRoom(ctx context.Context, name string) (Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateCalls++
	if p.Fail {
		return Room{}, fmt.Errorf("%w: injected", ErrProviderFailure)
	}
	if r, ok := p.rooms[name]; ok {
		return r, nil
	}
	r := Room{ID: "RM" + name, Name: name}
	p.rooms[name] = r
	return r, nil
}

func (p *FakeProvider) GenerateToken(ctx context.Context, identity, roomID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TokenCalls++
	if p.Fail {
		return "", fmt.Errorf("%w: injected", ErrProviderFailure)
	}
	return "token-" + identity + "-" + roomID, nil
}
