package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/rateintel/internal/metrics"
	"github.com/rs/zerolog"
)

// Processor executes work items one at a time, respecting dependencies and intervals.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	timeout    time.Duration
	log        zerolog.Logger

	trigger    chan struct{}
	done       chan struct{}
	stop       chan struct{}
	stopped    chan struct{}
	retryQueue []*WorkItem
	inFlight   map[string]bool
	mu         sync.Mutex
}

// NewProcessor creates a new work processor.
func NewProcessor(registry *Registry, completion *CompletionTracker, log zerolog.Logger) *Processor {
	return NewProcessorWithTimeout(registry, completion, WorkTimeout, log)
}

// NewProcessorWithTimeout creates a new work processor with a custom per-item timeout.
func NewProcessorWithTimeout(registry *Registry, completion *CompletionTracker, timeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		registry:   registry,
		completion: completion,
		timeout:    timeout,
		log:        log.With().Str("component", "work_processor").Logger(),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		inFlight:   make(map[string]bool),
	}
}

// Run starts the processor loop. This blocks until Stop() is called.
func (p *Processor) Run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.processOne()
		case <-p.done:
			p.processOne()
		}
	}
}

// Stop stops the processor loop. An item already executing finishes in the background.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.stopped
}

// Trigger wakes up the processor to look for work. Non-blocking.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
		// Trigger already pending
	}
}

// ExecuteNow runs a work type for a subject synchronously, bypassing interval and
// dependency checks. Used by manual API triggers.
func (p *Processor) ExecuteNow(ctx context.Context, workTypeID, subject string) error {
	wt := p.registry.Get(workTypeID)
	if wt == nil {
		return fmt.Errorf("unknown work type: %s", workTypeID)
	}

	item := NewWorkItem(wt, subject)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.execute(ctx, item, wt); err != nil {
		return err
	}
	p.completion.MarkCompleted(item)
	return nil
}

// InFlight returns the number of items currently executing.
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// RetryQueueLen returns the number of failed items waiting for a retry.
func (p *Processor) RetryQueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retryQueue)
}

func (p *Processor) processOne() {
	p.mu.Lock()
	busy := len(p.inFlight) > 0
	p.mu.Unlock()
	if busy {
		return
	}

	item, wt := p.findNextWork()
	if item == nil {
		item, wt = p.popRetryQueue()
	}
	if item == nil {
		return
	}

	p.mu.Lock()
	p.inFlight[item.ID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, item.ID)
			p.mu.Unlock()

			select {
			case p.done <- struct{}{}:
			default:
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.execute(ctx, item, wt); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.log.Error().Str("work", item.ID).Dur("timeout", p.timeout).Msg("Work timed out")
			} else {
				p.log.Error().Err(err).Str("work", item.ID).Msg("Work failed")
			}

			item.Retries++
			if item.Retries < MaxRetries {
				p.pushRetryQueue(item)
			} else {
				p.log.Warn().Str("work", item.ID).Int("retries", item.Retries).Msg("Max retries reached, skipping")
				// Completed for interval purposes so a broken subject does not spin.
				p.completion.MarkCompleted(item)
			}
			return
		}
		p.completion.MarkCompleted(item)
	}()
}

func (p *Processor) execute(ctx context.Context, item *WorkItem, wt *WorkType) error {
	start := time.Now()
	err := wt.Execute(ctx, item.Subject)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.WorkItemsTotal.WithLabelValues(wt.ID, status).Inc()

	p.log.Debug().
		Str("work", item.ID).
		Dur("duration", time.Since(start)).
		Bool("ok", err == nil).
		Msg("Work executed")
	return err
}

func (p *Processor) findNextWork() (*WorkItem, *WorkType) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	for _, wt := range p.registry.ByPriority() {
		subjects := wt.FindSubjects(ctx)
		for _, subject := range subjects {
			if p.isQueued(makeKey(wt.ID, subject)) {
				continue
			}
			if wt.Interval > 0 && !p.completion.IsStale(wt.ID, subject, wt.Interval) {
				continue
			}
			if !p.dependenciesMet(wt, subject) {
				continue
			}
			return NewWorkItem(wt, subject), wt
		}
	}
	return nil, nil
}

// isQueued reports whether the item is already waiting in the retry queue.
func (p *Processor) isQueued(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.retryQueue {
		if item.ID == id {
			return true
		}
	}
	return false
}

// dependenciesMet checks the dependencies of wt have completed for the same subject.
func (p *Processor) dependenciesMet(wt *WorkType, subject string) bool {
	for _, depID := range wt.DependsOn {
		if _, exists := p.completion.GetCompletion(depID, subject); !exists {
			return false
		}
	}
	return true
}

func (p *Processor) pushRetryQueue(item *WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryQueue = append(p.retryQueue, item)
}

func (p *Processor) popRetryQueue() (*WorkItem, *WorkType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.retryQueue) > 0 {
		item := p.retryQueue[0]
		p.retryQueue = p.retryQueue[1:]
		if wt := p.registry.Get(item.TypeID); wt != nil {
			return item, wt
		}
	}
	return nil, nil
}
