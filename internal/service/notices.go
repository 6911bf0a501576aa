package service

import (
	"sync"
	"time"
)

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is one user-visible message ("camera not ready", "video saved to …").
type Notice struct {
	Seq     uint64      `json:"seq"`
	At      time.Time   `json:"at"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

// noticeBuffer is a thread-safe circular buffer of notices with O(1) append
// and O(N) read.
type noticeBuffer struct {
	entries [500]Notice  // fixed-size ring, no per-append heap growth
	head    int          // next write position
	size    int          // current number of entries
	seq     uint64       // last assigned Seq
	mu      sync.RWMutex // protects all fields
}

// Append records a notice, overwriting the oldest when full.
func (b *noticeBuffer) Append(level NoticeLevel, msg, detail string) Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	const capN = len(b.entries)

	b.seq++
	n := Notice{Seq: b.seq, At: time.Now(), Level: level, Message: msg, Detail: detail}
	b.entries[b.head] = n
	b.head = (b.head + 1) % capN
	if b.size < capN {
		b.size++
	}
	return n
}

// Read returns the last n notices, newest first. n <= 0 or n > capacity
// returns everything held. The slice is a copy owned by the caller.
func (b *noticeBuffer) Read(n int) []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	const capN = len(b.entries)
	if b.size == 0 {
		return nil
	}
	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]Notice, n)
	newest := (b.head - 1 + capN) % capN
	for i := 0; i < n; i++ {
		out[i] = b.entries[(newest-i+capN)%capN]
	}
	return out
}
