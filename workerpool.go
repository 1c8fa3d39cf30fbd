package fasticap

import (
	"errors"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// workerPool serves incoming connections via a pool of workers.
//
// Each connection is served by a single worker until it is closed.
type workerPool struct {
	// Function for serving server connections.
	// It must leave c unclosed.
	WorkerFunc            func(c net.Conn) error
	MaxWorkersCount       int
	LogAllErrors          bool
	MaxIdleWorkerDuration time.Duration
	Logger                Logger

	workersCount         int64
	idleWorkers          sync.Pool
	lastIdleWorkersCount int64
	idleWorkersCount     int64
	state                int32
}

type workerPoolState int32

const (
	workerPoolStateUnset workerPoolState = iota
	workerPoolStateRunning
	workerPoolStateStopping
	workerPoolStateStopped
)

type workerChan struct {
	ch chan net.Conn
}

func (wp *workerPool) State() workerPoolState         { return workerPoolState(atomic.LoadInt32(&wp.state)) }
func (wp *workerPool) SetState(state workerPoolState) { atomic.StoreInt32(&wp.state, int32(state)) }

func (wp *workerPool) Start() {
	switch wp.State() {
	case workerPoolStateRunning:
		panic("BUG: workerPool already started")
	case workerPoolStateStopping:
		panic("BUG: workerPool is stopping and cannot be restarted")
	}
	if wp.MaxIdleWorkerDuration <= 0 {
		wp.MaxIdleWorkerDuration = 10 * time.Second
	}
	wp.SetState(workerPoolStateRunning)

	go func() {
		for {
			time.Sleep(wp.MaxIdleWorkerDuration)
			if wp.isStopped() {
				break
			}
			wp.clean()
		}
	}()
}

func (wp *workerPool) Stop() {
	if wp.State() != workerPoolStateRunning {
		panic("BUG: workerPool wasn't started")
	}

	// Busy workers stop after serving their connections.
	wp.SetState(workerPoolStateStopping)

	wc := atomic.LoadInt64(&wp.workersCount)
	for i := int64(0); i < wc; i++ {
		w := wp.idleWorkers.Get()
		if w == nil {
			break
		}
		w.(*workerChan).ch <- nil
	}

	wp.SetState(workerPoolStateStopped)
}

// Serve passes c to a worker. It returns false if all the workers are busy.
func (wp *workerPool) Serve(c net.Conn) bool {
	for attempts := 4; attempts > 0; attempts-- {
		if w := wp.getWorker(); w != nil {
			w.ch <- c
			return true
		}
		runtime.Gosched()
	}
	return false
}

func (wp *workerPool) isStopped() bool {
	switch wp.State() {
	case workerPoolStateStopping, workerPoolStateStopped:
		return true
	}
	return false
}

func (wp *workerPool) clean() {
	iwc := atomic.SwapInt64(&wp.idleWorkersCount, 0)
	liwc := atomic.SwapInt64(&wp.lastIdleWorkersCount, iwc)
	if iwc < int64(wp.MaxWorkersCount)*10/100 || iwc < 0 || iwc < liwc {
		return
	}

	// Notify obsolete workers to stop.
	for i := int64(0); i < iwc-liwc; i++ {
		w := wp.idleWorkers.Get()
		if w == nil {
			continue
		}
		atomic.AddInt64(&wp.idleWorkersCount, -1)
		w.(*workerChan).ch <- nil
	}
}

var workerChanCap = func() int {
	// Use blocking workerChan if GOMAXPROCS=1.
	// This immediately switches Serve to WorkerFunc.
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}

	// Use non-blocking workerChan if GOMAXPROCS>1,
	// since otherwise the Serve caller (Acceptor) may lag accepting
	// new connections if WorkerFunc is CPU-bound.
	return 1
}()

func (wp *workerPool) getWorker() *workerChan {
	if w := wp.idleWorkers.Get(); w != nil {
		atomic.AddInt64(&wp.idleWorkersCount, -1)
		return w.(*workerChan)
	}
	if atomic.AddInt64(&wp.workersCount, 1) > int64(wp.MaxWorkersCount) {
		atomic.AddInt64(&wp.workersCount, -1)
		return nil
	}
	ch := &workerChan{
		ch: make(chan net.Conn, workerChanCap),
	}
	go wp.workerFunc(ch)
	return ch
}

func (wp *workerPool) workerFunc(ch *workerChan) {
	for c := range ch.ch {
		if c == nil {
			break
		}

		if err := wp.WorkerFunc(c); err != nil && !wp.isQuietError(err) {
			wp.Logger.Printf("error when serving connection %q<->%q: %s", c.LocalAddr(), c.RemoteAddr(), err)
		}
		_ = c.Close()

		if wp.isStopped() {
			break
		}

		wp.idleWorkers.Put(ch)
		atomic.AddInt64(&wp.idleWorkersCount, 1)
	}

	atomic.AddInt64(&wp.workersCount, -1)
}

// isQuietError returns true for the usual errors of peers going away.
func (wp *workerPool) isQuietError(err error) bool {
	if wp.LogAllErrors {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "reset by peer") ||
		strings.Contains(errStr, "unexpected EOF") ||
		strings.Contains(errStr, "i/o timeout")
}
