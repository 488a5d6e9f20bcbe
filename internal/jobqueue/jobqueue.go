// Package jobqueue implements the background job queue and worker pool used
// for long-running, out-of-band work such as PDF ingestion and quiz
// generation.
//
// There is no separate broker process: a single priority heap (shared across
// every named queue, the same container/heap idiom the audio mixer uses for
// outbound speech segments) feeds a fixed-size pool of worker goroutines.
// Each worker runs one task to completion before pulling the next —
// concurrency per worker is always 1 — and a worker that has completed
// MaxTasksPerWorker tasks retires and is replaced by a fresh goroutine, the
// closest Go analogue to a recycled worker process.
package jobqueue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/observe"
)

// State is a task's lifecycle stage, as reported by [Pool.GetState].
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateRetry   State = "retry"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// defaultSoftTimeout and defaultHardTimeout apply when the configured
// JobQueueConfig leaves the corresponding field at zero.
const (
	defaultSoftTimeout = 50 * time.Minute
	defaultHardTimeout = 60 * time.Minute
)

// Job is one unit of background work submitted to the pool.
type Job struct {
	// JobID is the submitter-assigned identifier (e.g. a client-generated
	// UUID), carried through for correlation with the caller's own records.
	// Optional; leave empty if the caller has no external identifier.
	JobID string

	// Queue names which logical queue this job belongs to (e.g.
	// "pdf_processing", "quiz_generation"). Used only for metrics and
	// logging — all queues share one physical heap and worker pool.
	Queue string

	// Priority ranks this task against others awaiting a worker, 1 (lowest)
	// to 10 (highest). Tasks of equal priority run in submission order.
	Priority int

	// MaxRetries is how many times a failed Run is retried before the task
	// is marked StateFailure. Zero means no retries.
	MaxRetries int

	// Run performs the task's work. progress should be called periodically
	// to update the task's reported progress percentage and message. Run
	// must honour ctx cancellation: the pool cancels ctx at the hard
	// timeout and expects Run to return promptly afterward.
	Run func(ctx context.Context, progress func(pct int, message string)) (result any, err error)
}

// TaskInfo is the state snapshot returned by [Pool.GetState].
type TaskInfo struct {
	// State is the task's current lifecycle stage.
	State State

	// Progress is the last-reported completion percentage, 0-100.
	Progress int

	// Message is the last-reported human-readable status line.
	Message string

	// Result holds the value Run returned, once State is StateSuccess.
	Result any

	// Err holds the error Run returned, once State is StateFailure.
	Err error

	// Queue and JobID echo the submitted [Job]'s fields, for convenience.
	Queue string
	JobID string
}

// taskRecord is the pool's internal mutable state for one submitted task,
// guarded by Pool.mu.
type taskRecord struct {
	info TaskInfo
	job  Job
}

// entry is one heap element: a task awaiting a worker.
type entry struct {
	taskID     string
	priority   int
	seq        int64
	retriesUsed int
}

// taskHeap orders entries by descending priority, breaking ties by
// ascending submission sequence (FIFO within a priority band).
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Pool is the shared priority queue and worker pool.
//
// A Pool is safe for concurrent use. Call [Pool.Close] to stop accepting new
// work and wait for in-flight tasks to finish (up to the hard timeout).
type Pool struct {
	cfg     config.JobQueueConfig
	metrics *observe.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	tasks  map[string]*taskRecord
	nextSeq int64
	closed bool

	wg sync.WaitGroup
}

// New creates a Pool and starts cfg.Workers worker goroutines. metrics may
// be nil. cfg.Workers defaults to 1 if non-positive; cfg.SoftTimeout and
// cfg.HardTimeout default to 50 and 60 minutes respectively.
func New(cfg config.JobQueueConfig, metrics *observe.Metrics) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = defaultSoftTimeout
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = defaultHardTimeout
	}

	p := &Pool{
		cfg:     cfg,
		metrics: metrics,
		tasks:   make(map[string]*taskRecord),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i, 0)
	}
	return p
}

// Submit enqueues job and returns its assigned task ID immediately —
// submission never blocks on worker availability; the heap absorbs any
// burst. Returns an error only if the pool has been closed.
func (p *Pool) Submit(job Job) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fmt.Errorf("jobqueue: pool is closed")
	}

	taskID := uuid.NewString()
	p.nextSeq++
	e := &entry{taskID: taskID, priority: job.Priority, seq: p.nextSeq}
	p.tasks[taskID] = &taskRecord{
		info: TaskInfo{State: StatePending, Queue: job.Queue, JobID: job.JobID},
		job:  job,
	}
	heap.Push(&p.heap, e)
	if p.metrics != nil {
		p.metrics.RecordJobQueueDepthDelta(context.Background(), job.Queue, 1)
	}
	p.cond.Signal()
	return taskID, nil
}

// GetState returns a snapshot of taskID's current state. The bool result is
// false if taskID is unknown.
func (p *Pool) GetState(taskID string) (TaskInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return rec.info, true
}

// Close stops accepting new submissions and waits for every in-flight and
// queued task to drain, up to the configured hard timeout per task.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// runWorker pulls tasks from the shared heap until the pool is closed and
// the heap is drained, or until it has processed MaxTasksPerWorker tasks —
// at which point it retires and spawns its replacement.
func (p *Pool) runWorker(id, tasksDone int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.heap) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.heap) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		e := heap.Pop(&p.heap).(*entry)
		rec := p.tasks[e.taskID]
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.RecordJobQueueDepthDelta(context.Background(), rec.info.Queue, -1)
		}

		p.runTask(e, rec)
		tasksDone++

		if p.cfg.MaxTasksPerWorker > 0 && tasksDone >= p.cfg.MaxTasksPerWorker {
			slog.Info("jobqueue: recycling worker", "worker", id, "tasks_done", tasksDone)
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.wg.Add(1)
				go p.runWorker(id, 0)
			}
			return
		}
	}
}

// runTask executes one task's Run function under the configured soft/hard
// timeout policy, updates its recorded state, and retries on failure while
// retries remain.
func (p *Pool) runTask(e *entry, rec *taskRecord) {
	start := time.Now()

	p.mu.Lock()
	rec.info.State = StateStarted
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HardTimeout)
	defer cancel()

	softTimer := time.AfterFunc(p.cfg.SoftTimeout, func() {
		slog.Warn("jobqueue: task exceeded soft timeout, still running", "task_id", e.taskID, "queue", rec.info.Queue)
	})
	defer softTimer.Stop()

	progress := func(pct int, message string) {
		p.mu.Lock()
		rec.info.Progress = pct
		rec.info.Message = message
		p.mu.Unlock()
	}

	result, err := rec.job.Run(ctx, progress)

	if p.metrics != nil {
		p.metrics.RecordJobDuration(ctx, rec.info.Queue, time.Since(start).Seconds())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if e.retriesUsed < rec.job.MaxRetries {
			e.retriesUsed++
			rec.info.State = StateRetry
			rec.info.Message = err.Error()
			heap.Push(&p.heap, e)
			p.cond.Signal()
			if p.metrics != nil {
				p.metrics.RecordJobQueueDepthDelta(context.Background(), rec.info.Queue, 1)
			}
			return
		}
		rec.info.State = StateFailure
		rec.info.Err = err
		rec.info.Message = err.Error()
		return
	}

	rec.info.State = StateSuccess
	rec.info.Result = result
	rec.info.Progress = 100
}
