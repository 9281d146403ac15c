// Package dispatch runs emission tasks on ordered lanes keyed by room.
//
// Every key hashes to one lane and each lane drains its queue on a single
// goroutine, so tasks submitted for the same key run in submission order while
// unrelated keys proceed in parallel on other lanes. Submit never blocks.
package dispatch

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// Executor schedules a task on the lane owning key.
type Executor interface {
	Submit(key string, task func())
}

// Pool is a fixed set of lanes.
type Pool struct {
	lanes []*lane
	log   *slog.Logger
	wg    sync.WaitGroup
}

type lane struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

// NewPool creates a pool with size lanes. Lanes start draining once Run is
// called; tasks submitted before that are kept in order.
func NewPool(size int, log *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	lanes := make([]*lane, size)
	for i := range lanes {
		lanes[i] = &lane{notify: make(chan struct{}, 1)}
	}
	return &Pool{lanes: lanes, log: log}
}

// Size returns the number of lanes.
func (p *Pool) Size() int {
	return len(p.lanes)
}

// LaneFor returns the lane index owning key, using FNV-1a.
func (p *Pool) LaneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

func (p *Pool) Submit(key string, task func()) {
	if task == nil {
		return
	}
	l := p.lanes[p.LaneFor(key)]

	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drains every lane until ctx is cancelled. Tasks still queued at
// cancellation are executed before Run returns.
func (p *Pool) Run(ctx context.Context) {
	for i, l := range p.lanes {
		p.wg.Add(1)
		go func(index int, l *lane) {
			defer p.wg.Done()
			p.drainLane(ctx, index, l)
		}(i, l)
	}
	p.wg.Wait()
}

func (p *Pool) drainLane(ctx context.Context, index int, l *lane) {
	for {
		select {
		case <-ctx.Done():
			p.runBatch(index, l.take())
			p.log.Debug("Dispatch lane stopped", "lane", index)
			return
		case <-l.notify:
			p.runBatch(index, l.take())
		}
	}
}

func (l *lane) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (p *Pool) runBatch(index int, batch []func()) {
	for _, task := range batch {
		p.runTask(index, task)
	}
}

func (p *Pool) runTask(index int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Recovered from panic in dispatch task", "lane", index, "panic", r)
		}
	}()
	task()
}

// Inline runs every task synchronously on the caller's goroutine. Ordering is
// the caller's ordering.
type Inline struct{}

func (Inline) Submit(_ string, task func()) {
	if task != nil {
		task()
	}
}
