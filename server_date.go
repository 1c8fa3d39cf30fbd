package fasticap

import (
	"sync"
	"sync/atomic"
	"time"
)

// serverDateUpdater caches the Date header value while at least one
// server is running.
type serverDateUpdater struct {
	mtx        sync.Mutex
	useCounter int32
	date       atomic.Value
	stopCh     chan struct{}

	slowPathBuffer   []byte
	slowPathLastTime time.Time
}

var serverDateUpdaterData serverDateUpdater

// Every startServerDateUpdater call must be paired with stopServerDateUpdater.
func startServerDateUpdater() {
	d := &serverDateUpdaterData
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.useCounter++
	if d.useCounter == 1 {
		d.stopCh = make(chan struct{})
		refreshServerDate()
		go updateServerDate(d.stopCh)
	}
}

func stopServerDateUpdater() {
	d := &serverDateUpdaterData
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.useCounter--
	if d.useCounter == 0 {
		close(d.stopCh)
		// Empty value switches getServerDate to the slow path.
		d.date.Store([]byte{})
	}
}

func updateServerDate(stopCh <-chan struct{}) {
	d := &serverDateUpdaterData
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-t.C:
			// The tick may race with stopServerDateUpdater.
			d.mtx.Lock()
			select {
			case <-stopCh:
			default:
				refreshServerDate()
			}
			d.mtx.Unlock()
		}
	}
}

func refreshServerDate() {
	b := AppendHTTPDate(nil, time.Now())
	serverDateUpdaterData.date.Store(b)
}

func getServerDate() []byte {
	d := &serverDateUpdaterData
	b, ok := d.date.Load().([]byte)
	if ok && len(b) > 0 {
		return b
	}

	// Slow path for responses written outside of Server.Serve.
	d.mtx.Lock()
	defer d.mtx.Unlock()
	now := time.Now()
	if now.After(d.slowPathLastTime) {
		d.slowPathLastTime = now.Add(time.Second)
		d.slowPathBuffer = AppendHTTPDate(nil, now)
	}
	return d.slowPathBuffer
}
