package telemetry

import (
	"errors"
)

// DefaultBatchLimit is the encoded size a batch may grow to.
const DefaultBatchLimit = 8192

var ErrBatchFull = errors.New("telemetry: batch full")

// Batch accumulates encoded records up to a byte limit.
type Batch struct {
	limit   int
	body    []byte
	records []Record
}

func NewBatch(limit int) *Batch {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Batch{limit: limit, body: []byte{'['}}
}

// Add appends r. It returns ErrBatchFull, leaving the batch unchanged, when
// the encoded record would not fit. A record larger than the limit is
// accepted into an empty batch so it can be sent alone.
func (b *Batch) Add(r Record) error {
	enc := AppendRecord(nil, r)
	size := len(b.body) + len(enc) + 1 // closing bracket
	if len(b.records) > 0 {
		size++ // separator
	}
	if size > b.limit && len(b.records) > 0 {
		return ErrBatchFull
	}
	if len(b.records) > 0 {
		b.body = append(b.body, ',')
	}
	b.body = append(b.body, enc...)
	b.records = append(b.records, r)
	return nil
}

// Bytes returns the JSON array.
func (b *Batch) Bytes() []byte {
	out := make([]byte, len(b.body), len(b.body)+1)
	copy(out, b.body)
	return append(out, ']')
}

func (b *Batch) Records() []Record {
	return b.records
}

func (b *Batch) Len() int {
	return len(b.records)
}

// Size is the encoded size in bytes.
func (b *Batch) Size() int {
	return len(b.body) + 1
}

func (b *Batch) Reset() {
	b.body = b.body[:1]
	b.records = nil
}
