package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const dequeueTimeout = time.Second

// Manager runs the workers that consume a RedisScheduler.
type Manager struct {
	queue     *Queue
	scheduler *RedisScheduler
	workers   int
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewManager creates a worker pool for queue.
func NewManager(queue *Queue, scheduler *RedisScheduler, workers int) *Manager {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}
	return &Manager{queue: queue, scheduler: scheduler, workers: workers}
}

// Start recovers ids left in processing and starts the workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	if n, err := m.scheduler.recoverProcessing(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to recover processing list: %v", err)
	} else if n > 0 {
		log.Warnf("[JobQueue] Requeued %d jobs left in processing", n)
	}

	log.Infof("[JobQueue] Starting %d workers", m.workers)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Stop stops the workers and waits for in-flight jobs to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	m.cancel()
	m.running = false
	m.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning returns whether the workers are running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	for {
		if ctx.Err() != nil {
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		}

		jobID, err := m.scheduler.dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		log.Debugf("[JobQueue] Worker %d processing job %s", id, jobID)
		// In-flight jobs finish even when Stop was called.
		procCtx := context.WithoutCancel(ctx)
		if err := m.queue.Process(procCtx, jobID); err != nil && !errors.Is(err, ErrJobNotReplayable) {
			log.Errorf("[JobQueue] Worker %d: job %s: %v", id, jobID, err)
		}
		m.scheduler.ack(procCtx, jobID)
	}
}
