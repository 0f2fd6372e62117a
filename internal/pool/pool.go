// Package pool keeps a reserve of pre-warmed session containers so a
// create can skip the container start and evaluator warmup. The pool is
// optional; a nil *Pool means the feature is off and every create is cold.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t-henke/glaskasten/internal/docker"
)

const (
	refillInterval = 5 * time.Second
	labelPooled    = "glaskasten.pool"
	labelPooledAt  = "glaskasten.pooled_at"
)

// Pool maintains pre-warmed containers ready for instant claim.
type Pool struct {
	size    int
	spec    func(id string) docker.CreateSpec
	runtime Runtime
	logger  *slog.Logger

	// backoff after a failed warm create, lowered in tests.
	backoff time.Duration

	ready    chan string
	mu       sync.Mutex
	owned    map[string]bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a pool of the given size. Size zero disables pooling and
// returns nil; callers must treat a nil pool as absent.
func New(size int, spec func(id string) docker.CreateSpec, rt Runtime, logger *slog.Logger) *Pool {
	if size <= 0 {
		return nil
	}
	return &Pool{
		size:    size,
		spec:    spec,
		runtime: rt,
		logger:  logger,
		backoff: 2 * time.Second,
		ready:   make(chan string, size),
		owned:   make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// Start begins pre-warming containers in the background.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting container pool", "size", p.size)
	go p.refillWorker(ctx)
}

// Stop drains the pool and removes every warm container.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.logger.Info("stopping container pool")

	for {
		select {
		case containerID := <-p.ready:
			p.mu.Lock()
			delete(p.owned, containerID)
			p.mu.Unlock()
			if err := p.runtime.RemoveContainer(ctx, containerID); err != nil {
				p.logger.Error("removing pooled container", "container_id", containerID, "error", err)
			}
		default:
			return
		}
	}
}

// Claim hands out a warm container, or reports ok=false when none is
// ready. The container stops being pool-owned the moment it is claimed.
func (p *Pool) Claim(ctx context.Context) (string, bool) {
	select {
	case containerID := <-p.ready:
		p.mu.Lock()
		delete(p.owned, containerID)
		p.mu.Unlock()
		p.logger.Info("claimed pooled container", "container_id", containerID)
		return containerID, true
	default:
		return "", false
	}
}

// Owns reports whether the pool is holding the container, so startup
// reconciliation does not sweep warm containers away as orphans.
func (p *Pool) Owns(containerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owned[containerID]
}

// Ready reports how many warm containers are claimable right now.
func (p *Pool) Ready() int {
	return len(p.ready)
}

// refillWorker keeps the pool topped up until the context or the pool
// itself is stopped.
func (p *Pool) refillWorker(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	p.fill(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fill(ctx)
		}
	}
}

// fill creates containers until the pool holds its target size.
func (p *Pool) fill(ctx context.Context) {
	needed := p.size - len(p.ready)
	for i := 0; i < needed; i++ {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		spec := p.spec("pool-" + uuid.New().String()[:8])
		if spec.Labels == nil {
			spec.Labels = make(map[string]string)
		}
		spec.Labels[labelPooled] = "true"
		spec.Labels[labelPooledAt] = time.Now().UTC().Format(time.RFC3339)

		containerID, err := p.runtime.CreateContainer(ctx, spec)
		if err != nil {
			p.logger.Error("warming pooled container failed", "error", err)
			time.Sleep(p.backoff)
			continue
		}

		// A stop may have landed while the container was starting.
		select {
		case <-p.stopCh:
			p.removeExcess(ctx, containerID)
			return
		default:
		}

		p.mu.Lock()
		select {
		case p.ready <- containerID:
			p.owned[containerID] = true
			p.mu.Unlock()
			p.logger.Info("pooled container ready", "container_id", containerID)
		default:
			p.mu.Unlock()
			p.removeExcess(ctx, containerID)
		}
	}
}

func (p *Pool) removeExcess(ctx context.Context, containerID string) {
	if err := p.runtime.RemoveContainer(ctx, containerID); err != nil {
		p.logger.Error("removing excess pooled container", "container_id", containerID, "error", err)
	}
}
