package audit

import "sync"

// MemoryBuffer is a bounded FIFO of audit records awaiting publication.
// It backs the AMQP log while the broker is unreachable; once the buffer
// is full the oldest records are dropped, since a missed audit entry is a
// lesser harm than unbounded memory growth in an emergency path.
type MemoryBuffer struct {
	mutex    sync.Mutex
	records  []Record
	capacity int
	dropped  int
}

// NewMemoryBuffer creates a buffer holding at most capacity records
func NewMemoryBuffer(capacity int) *MemoryBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryBuffer{capacity: capacity}
}

// Store appends a record, evicting the oldest when full
func (b *MemoryBuffer) Store(record Record) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.records) >= b.capacity {
		b.records = b.records[1:]
		b.dropped++
	}
	b.records = append(b.records, record)
}

// Restore puts drained-but-unpublished records back at the front of the
// buffer, ahead of anything stored meanwhile, so a failed flush keeps the
// FIFO order. Overflow still evicts oldest first.
func (b *MemoryBuffer) Restore(records []Record) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	restored := make([]Record, 0, len(records)+len(b.records))
	restored = append(restored, records...)
	b.records = append(restored, b.records...)

	for len(b.records) > b.capacity {
		b.records = b.records[1:]
		b.dropped++
	}
}

// Drain removes and returns up to n buffered records, oldest first
func (b *MemoryBuffer) Drain(n int) []Record {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if n <= 0 || n > len(b.records) {
		n = len(b.records)
	}
	drained := make([]Record, n)
	copy(drained, b.records[:n])
	b.records = b.records[n:]
	return drained
}

// Len returns the number of buffered records
func (b *MemoryBuffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.records)
}

// Dropped returns how many records were evicted unpublished
func (b *MemoryBuffer) Dropped() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.dropped
}
