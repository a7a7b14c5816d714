package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

const (
	resultRetention = 24 * time.Hour
	reapInterval    = "@every 15m"
	defaultInflight = 16
)

// JobStatus is the lifecycle state of one batch item.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobResult is the terminal record for one ingest request within a batch.
type JobResult struct {
	ID        string
	Status    JobStatus
	State     State
	Err       *apierr.ServiceError
	Submitted time.Time
	Finished  time.Time
}

type submission struct {
	req   Request
	reply chan JobResult
}

// Batch runs many ingest requests concurrently, bounded by a semaphore,
// tolerating per-item failure: one request's error never cancels its
// siblings. A single coordinator goroutine hands each submission to its
// own worker goroutine; the results map is guarded by mu, which Submit
// and Status take.
type Batch struct {
	sctx StageContext
	sem  *semaphore.Weighted

	submit chan submission
	done   chan struct{}

	cron *cron.Cron

	mu      sync.Mutex
	results map[string]JobResult
}

// NewBatch creates a Batch bounding in-flight fetches to maxConcurrent
// (defaultInflight if <= 0) and starts its coordinator goroutine and
// 15-minute result reaper.
func NewBatch(sctx StageContext, maxConcurrent int64) *Batch {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultInflight
	}
	b := &Batch{
		sctx:    sctx,
		sem:     semaphore.NewWeighted(maxConcurrent),
		submit:  make(chan submission),
		done:    make(chan struct{}),
		results: make(map[string]JobResult),
	}
	go b.run()
	b.startReaper()
	return b
}

// Submit enqueues one ingest request and returns its job ID immediately;
// the pipeline runs asynchronously. Returns an error if the batch has
// been stopped. Submit does not check the inflight ceiling: every
// submission is accepted, and its job waits in execute for a semaphore
// slot.
func (b *Batch) Submit(req Request) (string, error) {
	id := newJobID()
	reply := make(chan JobResult, 1)

	select {
	case <-b.done:
		return "", apierr.New(apierr.KindInternal, "batch is stopped")
	default:
	}

	select {
	case b.submit <- submission{req: req, reply: reply}:
	case <-b.done:
		return "", apierr.New(apierr.KindInternal, "batch is stopped")
	}

	b.mu.Lock()
	b.results[id] = JobResult{ID: id, Status: JobQueued, Submitted: time.Now().UTC()}
	b.mu.Unlock()

	go b.await(id, reply)
	return id, nil
}

func (b *Batch) await(id string, reply chan JobResult) {
	result := <-reply
	result.ID = id
	b.mu.Lock()
	b.results[id] = result
	b.mu.Unlock()
}

// Status returns the current record for a job ID.
func (b *Batch) Status(id string) (JobResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.results[id]
	return r, ok
}

// Stop halts the reaper and coordinator. In-flight jobs run to
// completion; their results remain queryable until reaped.
func (b *Batch) Stop() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	if b.cron != nil {
		ctx := b.cron.Stop()
		<-ctx.Done()
	}
}

func (b *Batch) run() {
	for {
		select {
		case sub := <-b.submit:
			go b.execute(sub)
		case <-b.done:
			return
		}
	}
}

func (b *Batch) execute(sub submission) {
	if err := b.sem.Acquire(sub.req.ctxOrBackground(b.sctx), 1); err != nil {
		sub.reply <- JobResult{Status: JobFailed, Err: apierr.Internal("acquire batch slot", err), Finished: time.Now().UTC()}
		return
	}
	defer b.sem.Release(1)

	state, svcErr := Pipeline(b.sctx, sub.req)
	result := JobResult{State: state, Finished: time.Now().UTC()}
	if svcErr != nil {
		result.Status = JobFailed
		result.Err = svcErr
	} else {
		result.Status = JobDone
	}
	sub.reply <- result
}

func (b *Batch) startReaper() {
	c := cron.New()
	_, _ = c.AddFunc(reapInterval, b.reap)
	c.Start()
	b.cron = c
}

func (b *Batch) reap() {
	cutoff := time.Now().UTC().Add(-resultRetention)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, r := range b.results {
		if !r.Finished.IsZero() && r.Finished.Before(cutoff) {
			delete(b.results, id)
		}
	}
}

func newJobID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// ctxOrBackground returns the context used to acquire a batch slot: the
// stage context when one is set, otherwise context.Background().
func (req Request) ctxOrBackground(sctx StageContext) context.Context {
	if sctx.Ctx != nil {
		return sctx.Ctx
	}
	return context.Background()
}
