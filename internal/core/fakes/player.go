package fakes

import (
	"context"
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

// Player is a scripted PullPlayer. Start blocks on Gate when it is set.
type Player struct {
	Kind domain.TransportKind
	Size domain.Size
	Err  error
	Gate chan struct{}

	mu       sync.Mutex
	urls     []string
	muted    bool
	stopped  int
	metadata chan domain.Size
}

func NewPlayer(kind domain.TransportKind, size domain.Size) *Player {
	return &Player{Kind: kind, Size: size, metadata: make(chan domain.Size, 8)}
}

func (p *Player) Start(ctx context.Context, url string) (domain.Size, error) {
	p.mu.Lock()
	p.urls = append(p.urls, url)
	gate := p.Gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Size{}, ctx.Err()
		}
	}
	if p.Err != nil {
		return domain.Size{}, p.Err
	}
	return p.Size, nil
}

func (p *Player) Metadata() <-chan domain.Size { return p.metadata }

// EmitSize pushes a new intrinsic size to the metadata channel.
func (p *Player) EmitSize(s domain.Size) { p.metadata <- s }

func (p *Player) SetMuted(m bool) {
	p.mu.Lock()
	p.muted = m
	p.mu.Unlock()
}

func (p *Player) Stop() error {
	p.mu.Lock()
	p.stopped++
	p.mu.Unlock()
	return nil
}

func (p *Player) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Player) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type PlayerFactory struct {
	Size domain.Size
	Err  error
	// OnNew runs before a player is handed out.
	OnNew func(kind domain.TransportKind)
	// Prepare lets a test script the player before Start.
	Prepare func(*Player)

	mu      sync.Mutex
	players []*Player
}

func (f *PlayerFactory) NewPlayer(kind domain.TransportKind) (core.PullPlayer, error) {
	if f.OnNew != nil {
		f.OnNew(kind)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPlayer(kind, f.Size)
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.mu.Lock()
	f.players = append(f.players, p)
	f.mu.Unlock()
	return p, nil
}

func (f *PlayerFactory) Players() []*Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Player(nil), f.players...)
}

func (f *PlayerFactory) Last() *Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.players) == 0 {
		return nil
	}
	return f.players[len(f.players)-1]
}
