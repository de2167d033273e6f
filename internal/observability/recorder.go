// Package observability provides metrics recorders for subscription and export
// activity. Recorders are passed explicitly; there is no global registry.
package observability

import (
	"context"
	"time"
)

// Recorder receives operational measurements.
type Recorder interface {
	// Observe records one operation outcome, e.g. "snapshot.gifts" or "export.pdf".
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// Rejected counts documents dropped while decoding a snapshot.
	Rejected(category string, n int)
	// Records sets the current record count of a category.
	Records(category string, n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}
func (Nop) Rejected(string, int)                                 {}
func (Nop) Records(string, int)                                  {}

// Tee fans measurements out to several recorders.
type Tee []Recorder

func (t Tee) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range t {
		r.Observe(ctx, operation, success, duration)
	}
}

func (t Tee) Rejected(category string, n int) {
	for _, r := range t {
		r.Rejected(category, n)
	}
}

func (t Tee) Records(category string, n int) {
	for _, r := range t {
		r.Records(category, n)
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
