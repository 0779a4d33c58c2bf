// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package fecqueue implements a priority-ordered, bounded worker pool fed by
// a transient in-memory deque and a persistent store with an in-memory cache
// window, with OOM-aware concurrency control.
//
// The queue is deliberately ignorant of what a Job actually does -- the
// splitfile engine supplies the codec invocation as a closure, keeping this
// worker pool generic over the work it runs.
package fecqueue

import (
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var mon = monkit.Package()

// Error is the error class for queue-level failures (not job failures, which
// are reported through a Job's own Callback).
var Error = errs.Class("fecqueue")

// Priority is a job's scheduling class. 0 is highest priority.
type Priority uint8

// NumPriorities bounds the number of distinct scheduling classes. Freenet's
// own request scheduler runs 6 request priorities plus one reserved for
// internal bulk work; 8 gives headroom without pretending the full range of
// a byte is meaningful.
const NumPriorities = 8

// Result is whatever a Job's Work function produces; the queue never
// inspects it, only passes it to Callback.
type Result interface{}

// Job is one unit of work submitted to the queue.
type Job struct {
	// Work performs the actual codec invocation and returns its result.
	Work func() (Result, error)
	// Callback is invoked with Work's outcome. For a persistent job, it
	// runs on the persistent-jobs runner, serialized with other persistent
	// state access; for a transient job, it runs directly on the worker
	// goroutine.
	Callback func(Result, error)
	// Priority is this job's scheduling class; 0 is highest.
	Priority Priority
	// Persistent routes the job through the durable store and cache
	// window instead of the transient deque.
	Persistent bool

	addedAt time.Time
	seq     uint64
	storeID string
}

// StoredJob pairs a durable-store identifier with the Job it refers to.
type StoredJob struct {
	ID  string
	Job *Job
}

// PersistentStore is the durable backing for persistent jobs: an append-only
// log plus an index from (priority, added_at) to offset, in place of a
// database-row-per-job persistence scheme. The exact durable format is out
// of scope; only this interface is load-bearing.
type PersistentStore interface {
	// Append records j durably and returns an opaque identifier.
	Append(j *Job) (id string, err error)
	// Delete removes a completed job's record.
	Delete(id string) error
	// Window returns up to limit not-yet-cached jobs at priority p, ordered
	// by AddedAt, for the cache filler to pull in.
	Window(p Priority, limit int) ([]StoredJob, error)
}

// Queue is FECQueue: a priority worker pool over transient and
// persistent-cached jobs.
type Queue struct {
	log   *zap.Logger
	store PersistentStore

	mu   sync.Mutex
	cond *sync.Cond

	transient [NumPriorities][]*Job
	cache     [NumPriorities][]*Job
	cacheSize int

	// delivered holds the store ID of every persistent job currently
	// resident in cache or in flight on a worker, whether it got there by
	// direct admission (admitToCache) or by the cache filler (Window). A
	// job's ID is only cleared once its store record is actually deleted
	// or the job is evicted back to store-only; this keeps a job that
	// Enqueue admitted directly from also being handed back out by the
	// next refillCache before its delete has landed.
	delivered map[string]struct{}

	maxCacheSize int
	maxWorkers   int
	running      int
	closed       bool
	nextSeq      uint64

	persistentRunner *Runner
}

// New constructs a Queue. maxWorkers is the initial worker cap, chosen once
// at startup and reducible later via OnLowMemory/OnOOM. store may be nil if
// the caller never enqueues persistent jobs.
func New(maxWorkers, maxCacheSize int, store PersistentStore, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	q := &Queue{
		log:              log,
		store:            store,
		delivered:        make(map[string]struct{}),
		maxCacheSize:     maxCacheSize,
		maxWorkers:       maxWorkers,
		persistentRunner: NewRunner(),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits a job, applying cache-admission/eviction rules for
// persistent jobs, and starts a worker if capacity allows.
func (q *Queue) Enqueue(j *Job) error {
	if int(j.Priority) >= NumPriorities {
		return Error.New("priority %d out of range [0,%d)", j.Priority, NumPriorities)
	}

	q.mu.Lock()
	j.addedAt = time.Now()
	j.seq = q.nextSeq
	q.nextSeq++

	if j.Persistent {
		if q.store == nil {
			q.mu.Unlock()
			return Error.New("persistent job enqueued without a PersistentStore")
		}
		id, err := q.store.Append(j)
		if err != nil {
			q.mu.Unlock()
			return Error.Wrap(err)
		}
		j.storeID = id
		q.admitToCache(j)
	} else {
		q.transient[j.Priority] = append(q.transient[j.Priority], j)
	}

	canStart := q.running < q.maxWorkers
	if canStart {
		q.running++
	}
	q.mu.Unlock()

	mon.IntVal("fecqueue_depth").Observe(int64(q.Depth()))
	q.cond.Signal()
	if canStart {
		go q.runWorker()
	}
	return nil
}

// admitToCache applies the cache-admission rule: count items strictly
// above j's priority; if that alone meets the cap, the job stays
// store-only (the filler will pick it up later). Otherwise insert, mark j
// delivered so refillCache never hands the same store record back out
// while it is cached or executing, then evict from lower priorities,
// tail-first, until the cache fits. An evicted job is unmarked, since it
// reverts to store-only and the filler must be free to pick it up again
// later. Must be called with q.mu held.
func (q *Queue) admitToCache(j *Job) {
	above := 0
	for p := Priority(0); p < j.Priority; p++ {
		above += len(q.cache[p])
	}
	if above >= q.maxCacheSize {
		return
	}

	q.cache[j.Priority] = append(q.cache[j.Priority], j)
	q.cacheSize++
	q.delivered[j.storeID] = struct{}{}

	for p := Priority(NumPriorities - 1); p > j.Priority && q.cacheSize > q.maxCacheSize; p-- {
		for len(q.cache[p]) > 0 && q.cacheSize > q.maxCacheSize {
			lane := q.cache[p]
			evicted := lane[len(lane)-1]
			q.cache[p] = lane[:len(lane)-1]
			q.cacheSize--
			delete(q.delivered, evicted.storeID)
		}
	}
}

// refillCache pulls jobs from the durable store into the cache window when
// it drains below capacity. Store records already marked delivered --
// whether admitted directly by Enqueue or by an earlier refillCache -- are
// skipped, since Window's cursor advances past them regardless of whether
// this call re-admits them; without this check a record the cache filler
// first sees after it was already admitted directly would be queued and
// executed a second time.
func (q *Queue) refillCache() {
	if q.store == nil {
		return
	}
	for p := Priority(0); p < NumPriorities && q.cacheSize < q.maxCacheSize; p++ {
		room := q.maxCacheSize - q.cacheSize
		if room <= 0 {
			break
		}
		stored, err := q.store.Window(p, room)
		if err != nil {
			q.log.Warn("fecqueue: cache filler read failed", zap.Error(err))
			return
		}
		for _, s := range stored {
			if _, ok := q.delivered[s.ID]; ok {
				continue
			}
			q.cache[p] = append(q.cache[p], s.Job)
			q.cacheSize++
			q.delivered[s.ID] = struct{}{}
		}
	}
}

// Depth returns the total number of jobs currently queued (transient plus
// cached persistent; does not include jobs parked only in the durable store).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.cacheSize
	for p := range q.transient {
		n += len(q.transient[p])
	}
	return n
}

// OnLowMemory shrinks the worker cap by one (floor 1) and wakes one worker
// so it can notice and drain.
func (q *Queue) OnLowMemory() {
	q.mu.Lock()
	if q.maxWorkers > 1 {
		q.maxWorkers--
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// OnOOM clamps the worker cap to 1 and wakes every worker so the excess can
// drain immediately.
func (q *Queue) OnOOM() {
	q.mu.Lock()
	q.maxWorkers = 1
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close stops accepting new work signals and wakes all workers so they can
// drain to exit. In-flight jobs still run to completion.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// popReady removes and returns the highest-priority ready job: transient
// takes strict precedence over the persistent cache at the same priority.
// Must be called with q.mu held.
func (q *Queue) popReady() *Job {
	for p := Priority(0); p < NumPriorities; p++ {
		if len(q.transient[p]) > 0 {
			j := q.transient[p][0]
			q.transient[p] = q.transient[p][1:]
			return j
		}
		if len(q.cache[p]) > 0 {
			j := q.cache[p][0]
			q.cache[p] = q.cache[p][1:]
			q.cacheSize--
			return j
		}
	}
	return nil
}

// runWorker cycles a worker goroutine through Running -> Draining -> Exited.
// A worker drains (exits without completing the loop) once the live worker
// count exceeds a hot-downsized max_workers.
func (q *Queue) runWorker() {
	defer func() {
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		for {
			if q.running > q.maxWorkers {
				// Draining: more workers are live than the (reduced) cap
				// allows; this one exits.
				q.mu.Unlock()
				return
			}
			if j := q.popReady(); j != nil {
				q.mu.Unlock()
				q.execute(j)
				mon.IntVal("fecqueue_depth").Observe(int64(q.Depth()))
				break
			}
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.refillCache()
			if q.cacheSize == 0 && allEmpty(q.transient[:]) {
				q.cond.Wait()
				continue
			}
		}
	}
}

func allEmpty(lanes [][]*Job) bool {
	for _, l := range lanes {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

// execute runs a job's codec work and dispatches its callback. A codec error
// is logged and still delivered to the callback; a panicking callback is
// caught and logged, never killing the worker.
func (q *Queue) execute(j *Job) {
	result, err := j.Work()
	if err != nil {
		q.log.Error("fecqueue: job execution failed", zap.Error(err), zap.Uint8("priority", uint8(j.Priority)))
	}

	deliver := func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("fecqueue: job callback panicked", zap.Any("recover", r))
			}
		}()
		j.Callback(result, err)
	}

	if !j.Persistent {
		deliver()
		return
	}

	id := j.storeID
	store := q.store
	q.persistentRunner.Submit(j.Priority, false, func() {
		deliver()
		if delErr := store.Delete(id); delErr != nil {
			q.log.Error("fecqueue: persistent job delete failed", zap.Error(delErr))
		}
		q.mu.Lock()
		delete(q.delivered, id)
		q.mu.Unlock()
	})
}
