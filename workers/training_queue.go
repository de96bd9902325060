package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/google/uuid"
)

// Task labels used by the face service
const (
	TaskEnroll  = "enroll"
	TaskRetrain = "retrain"
)

var ErrQueueStopped = errors.New("training queue stopped")

type TrainingJob struct {
	ID       string
	TaskType string
	QueuedAt time.Time

	ctx    context.Context
	run    func(ctx context.Context) error
	result chan error
}

// TrainingQueue runs jobs one at a time on a single worker goroutine, so
// sample writes and retrains never interleave.
type TrainingQueue struct {
	JobQueue chan *TrainingJob
	Wg       sync.WaitGroup
	StopChan chan struct{}

	done      chan struct{} // closed when the worker has exited
	stopOnce  sync.Once
	pending   atomic.Int64
	processed atomic.Int64
}

func NewTrainingQueue(queueSize int) *TrainingQueue {
	if queueSize <= 0 {
		queueSize = 32
	}
	q := &TrainingQueue{
		JobQueue: make(chan *TrainingJob, queueSize),
		StopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	q.Wg.Add(1)
	go q.worker()
	logger.Infof("workers: started training queue with size %d", queueSize)
	return q
}

func (q *TrainingQueue) worker() {
	defer q.Wg.Done()
	defer close(q.done)
	for {
		select {
		case job := <-q.JobQueue:
			q.process(job)
		case <-q.StopChan:
			q.drain()
			logger.Infof("workers: training queue stopping: stop signal received")
			return
		}
	}
}

// drain fails every job still buffered after Stop.
func (q *TrainingQueue) drain() {
	for {
		select {
		case job := <-q.JobQueue:
			q.pending.Add(-1)
			job.result <- ErrQueueStopped
		default:
			return
		}
	}
}

func (q *TrainingQueue) process(job *TrainingJob) {
	defer q.pending.Add(-1)

	// a caller that gave up before the job started gets nothing done
	if err := job.ctx.Err(); err != nil {
		logger.Warnf("workers: skipping %s job %s: caller context done: %v", job.TaskType, job.ID, err)
		job.result <- err
		return
	}

	start := time.Now()
	logger.Debugf("workers: running %s job %s after %s in queue", job.TaskType, job.ID, start.Sub(job.QueuedAt))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s job %s panicked: %v", job.TaskType, job.ID, r)
			}
		}()
		// once started a job runs to completion so enrollments stay atomic
		return job.run(context.WithoutCancel(job.ctx))
	}()

	q.processed.Add(1)
	if err != nil {
		logger.Warnf("workers: %s job %s failed after %s: %v", job.TaskType, job.ID, time.Since(start), err)
	} else {
		logger.Infof("workers: %s job %s done in %s", job.TaskType, job.ID, time.Since(start))
	}
	job.result <- err
}

// Do queues fn and waits for its result. It returns early with the context
// error if ctx ends first; a job that already started still completes.
func (q *TrainingQueue) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	job := &TrainingJob{
		ID:       uuid.NewString(),
		TaskType: label,
		QueuedAt: time.Now(),
		ctx:      ctx,
		run:      fn,
		result:   make(chan error, 1),
	}

	select {
	case <-q.StopChan:
		return ErrQueueStopped
	default:
	}

	q.pending.Add(1)
	select {
	case q.JobQueue <- job:
		logger.Debugf("workers: queued %s job %s", label, job.ID)
	case <-ctx.Done():
		q.pending.Add(-1)
		return ctx.Err()
	case <-q.StopChan:
		q.pending.Add(-1)
		return ErrQueueStopped
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case err := <-job.result:
			return err
		default:
			return ErrQueueStopped
		}
	}
}

// Pending is the number of queued or running jobs.
func (q *TrainingQueue) Pending() int64 {
	return q.pending.Load()
}

func (q *TrainingQueue) Processed() int64 {
	return q.processed.Load()
}

func (q *TrainingQueue) Stop() {
	q.stopOnce.Do(func() {
		logger.Infof("workers: stopping training queue...")
		close(q.StopChan)
		q.Wg.Wait()
		logger.Infof("workers: training queue stopped")
	})
}
