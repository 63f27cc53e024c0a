package workerpool

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Event kinds written to diagnostics sinks.
const (
	EventReady      = "ready"
	EventTask       = "task"
	EventPanic      = "panic"
	EventTerminated = "terminated"
)

// Event is one diagnostics record.
type Event struct {
	Pool     string `msgpack:"pool"`
	Worker   int    `msgpack:"worker"`
	Kind     string `msgpack:"kind"`
	TaskID   uint64 `msgpack:"task_id,omitempty"`
	TaskType string `msgpack:"task_type,omitempty"`
	Success  bool   `msgpack:"success,omitempty"`
	Micros   int64  `msgpack:"duration_us,omitempty"`
	Error    string `msgpack:"error,omitempty"`
}

// maxEventSize bounds a single frame on read.
const maxEventSize = 1 << 20

// sink frames events as a 4-byte big-endian length followed by msgpack.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(ev Event) error {
	if s == nil {
		return nil
	}
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal diagnostics event: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write diagnostics length: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write diagnostics event: %w", err)
	}
	return nil
}

func (s *sink) close() error {
	if s == nil {
		return nil
	}
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadEvent reads one frame written to a diagnostics sink.
func ReadEvent(r io.Reader) (Event, error) {
	var ev Event
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return ev, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxEventSize {
		return ev, fmt.Errorf("diagnostics frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return ev, fmt.Errorf("read diagnostics event: %w", err)
	}
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal diagnostics event: %w", err)
	}
	return ev, nil
}
