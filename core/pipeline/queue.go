package pipeline

import (
	"context"
	"sync"
	"time"

	"EchoFM/logger"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of one transcoding attempt.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one transcoding attempt. Jobs live only in memory; the HLS artifact on
// disk is the durability mechanism for "is this track done".
type Job struct {
	ID        string
	TrackID   int64
	Status    JobStatus
	CreatedAt time.Time
	Error     string
}

// Processor is the work a drained job performs. Implemented by Engine.
type Processor interface {
	Process(ctx context.Context, trackID int64) (*ProcessResult, error)
}

// Queue 单进程FIFO转码队列
// 任意时刻最多一个排空协程在运行，因此外部转码工具的并发调用数被限制为1
// 失败的任务记录错误后丢弃，不自动重试，循环继续处理下一个任务
type Queue struct {
	mu       sync.Mutex
	jobs     []*Job
	inflight map[int64]bool // 按trackId去重，防止重复入队在途曲目
	draining bool

	proc Processor
	wg   sync.WaitGroup
}

// NewQueue creates an idle queue; the drain loop starts lazily on Enqueue.
func NewQueue(proc Processor) *Queue {
	return &Queue{
		inflight: make(map[int64]bool),
		proc:     proc,
	}
}

// Enqueue appends a pending job and starts a drain loop if none is running.
// Returns immediately. When a job for the same track is already queued or
// processing, no new job is created and added is false.
func (q *Queue) Enqueue(trackID int64) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inflight[trackID] {
		logger.Debug("曲目已在队列中，跳过入队", logger.Int64("trackId", trackID))
		return nil, false
	}

	job := &Job{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}
	q.jobs = append(q.jobs, job)
	q.inflight[trackID] = true
	q.wg.Add(1)

	logger.Info("任务已入队",
		logger.String("jobId", job.ID),
		logger.Int64("trackId", trackID),
		logger.Int("queueSize", len(q.jobs)))

	if !q.draining {
		q.draining = true
		go q.drain()
	}
	return job, true
}

// Len returns the number of jobs not yet popped by the drain loop.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Wait blocks until every enqueued job has reached a terminal state. Used on
// shutdown and in tests.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// drain pops jobs in FIFO order until the queue is empty, then exits. A job
// error is recorded against that job only; the loop always proceeds.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		job.Status = JobProcessing
		q.mu.Unlock()

		logger.Info("开始处理任务",
			logger.String("jobId", job.ID),
			logger.Int64("trackId", job.TrackID))

		// 任务本身不设超时：下载/编码耗时不可预估，挂起由运维介入
		_, err := q.proc.Process(context.Background(), job.TrackID)

		q.mu.Lock()
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
		} else {
			job.Status = JobCompleted
		}
		delete(q.inflight, job.TrackID)
		q.mu.Unlock()

		if err != nil {
			logger.Error("任务处理失败",
				logger.String("jobId", job.ID),
				logger.Int64("trackId", job.TrackID),
				logger.ErrorField(err))
		} else {
			logger.Info("任务处理完成",
				logger.String("jobId", job.ID),
				logger.Int64("trackId", job.TrackID))
		}
		q.wg.Done()
	}
}
