package core

import "sync"

// Feed is a latest-wins Watch implementation shared by the backends.
// Publishers never block: an unread snapshot is replaced by a newer one,
// which is safe because every snapshot is a full replacement.
type Feed struct {
	out  chan Snapshot
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	err     error
	onClose func()
}

// NewFeed returns an open feed. onClose, if non-nil, runs once when the feed
// is closed or fails, and should release backend resources.
func NewFeed(onClose func()) *Feed {
	return &Feed{
		out:     make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Snapshots implements Watch.
func (f *Feed) Snapshots() <-chan Snapshot { return f.out }

// Done is closed when the feed stops accepting snapshots.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Publish offers a snapshot, replacing any unread one. It reports false once
// the feed is closed.
func (f *Feed) Publish(s Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.out <- s:
		return true
	default:
	}
	select {
	case <-f.out:
	default:
	}
	f.out <- s
	return true
}

// Err implements Watch.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements Watch.
func (f *Feed) Close() error {
	f.finish(nil)
	return nil
}

// Fail closes the feed with a terminal error.
func (f *Feed) Fail(err error) {
	f.finish(err)
}

func (f *Feed) finish(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.err = err
	select {
	case <-f.out:
	default:
	}
	close(f.out)
	close(f.done)
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}
