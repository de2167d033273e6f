package domain

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every DecodeError via errors.Is.
var ErrDecode = errors.New("decode document")

// DecodeError reports a store document that could not be turned into a
// record. Decode errors are recovered inside the subscription layer: the
// document is dropped from its snapshot and the rest is applied.
type DecodeError struct {
	Category   Category `json:"category"`
	DocumentID string   `json:"document_id"`
	Reason     string   `json:"reason"`
}

func (e *DecodeError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("decode %s document: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("decode %s document %s: %s", e.Category, e.DocumentID, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
