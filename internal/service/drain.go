package service

import (
	"bytes"
	"fmt"
	"io"
)

// Side tells which leg of the relay a body belongs to.
type Side int

const (
	SideRequest Side = iota
	SideResponse
)

func (s Side) String() string {
	if s == SideRequest {
		return "reqBody"
	}
	return "respBody"
}

// DrainError is a body read failure tagged with its side.
type DrainError struct {
	Side Side
	Err  error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("read from %s: %v", e.Side, e.Err)
}

func (e *DrainError) Unwrap() error {
	return e.Err
}

// Drain reads r to EOF into one contiguous slice. A nil reader or an empty
// body yields an empty, non-nil slice.
func Drain(r io.Reader, side Side) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, &DrainError{Side: side, Err: err}
	}
	if buf.Len() == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}
