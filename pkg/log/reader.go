package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/JZwlth/iotauth/pkg/wire"
)

// Filter selects events. A zero field places no constraint, so the zero
// Filter matches everything. TimeStart is inclusive and TimeEnd exclusive.
type Filter struct {
	ConnectionID string
	ExchangeID   string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	ClientID     *uint32
	MessageType  *wire.MessageType
	TimeStart    *time.Time
	TimeEnd      *time.Time
}

// Matches reports whether e passes every constraint of f.
func (f *Filter) Matches(e Event) bool {
	switch {
	case f.ConnectionID != "" && f.ConnectionID != e.ConnectionID,
		f.ExchangeID != "" && f.ExchangeID != e.ExchangeID:
		return false
	case !eqPtr(f.Direction, e.Direction),
		!eqPtr(f.Layer, e.Layer),
		!eqPtr(f.Category, e.Category):
		return false
	case f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart),
		f.TimeEnd != nil && !e.Timestamp.Before(*f.TimeEnd):
		return false
	}

	if f.ClientID != nil && (e.ClientID == nil || *e.ClientID != *f.ClientID) {
		return false
	}
	if f.MessageType != nil && (e.Message == nil || e.Message.Type != *f.MessageType) {
		return false
	}
	return true
}

func eqPtr[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// Reader streams events out of a capture, skipping those the filter
// rejects.
type Reader struct {
	src    io.Closer
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens the capture at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewStreamReader(f, filter), nil
}

// NewStreamReader reads a capture from r. If r is an io.Closer, Close
// closes it.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	c, ok := r.(io.Closer)
	if !ok {
		c = io.NopCloser(r)
	}
	return &Reader{src: c, dec: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF once the capture is
// exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.dec.Decode(&e); err != nil {
			return Event{}, err
		}
		if r.filter.Matches(e) {
			return e, nil
		}
	}
}

// All ranges over the remaining matching events. Iteration stops at the
// end of the capture; any other decode error is yielded once as the last
// pair.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			e, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// ReadAll returns every event in the capture at path that matches filter.
func ReadAll(path string, filter Filter) ([]Event, error) {
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Event
	for e, err := range r.All() {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
