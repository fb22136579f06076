package runstate

import (
	"errors"
	"sync"
)

// MemoryStore is an in-process Store. Raw marker content is kept as bytes so
// malformed records can be simulated the same way as on disk.
type MemoryStore struct {
	mu       sync.Mutex
	pid      []byte
	endpoint []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// SetRawHandle stores arbitrary PID marker content; nil removes it.
func (m *MemoryStore) SetRawHandle(b []byte) {
	m.mu.Lock()
	m.pid = b
	m.mu.Unlock()
}

// SetRawEndpoint stores arbitrary endpoint marker content; nil removes it.
func (m *MemoryStore) SetRawEndpoint(b []byte) {
	m.mu.Lock()
	m.endpoint = b
	m.mu.Unlock()
}

// HasHandle reports whether any PID marker content is present.
func (m *MemoryStore) HasHandle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid != nil
}

func (m *MemoryStore) InspectHandle() (Handle, HandleState, error) {
	m.mu.Lock()
	b := m.pid
	m.mu.Unlock()
	if b == nil {
		return Handle{}, HandleMissing, nil
	}
	h, ok := ParseHandle(b)
	if !ok {
		return Handle{}, HandleMalformed, nil
	}
	return h, HandleValid, nil
}

func (m *MemoryStore) ReadHandle() (Handle, bool, error) {
	h, st, err := m.InspectHandle()
	return h, st == HandleValid, err
}

func (m *MemoryStore) WriteHandle(h Handle) error {
	if h.PID <= 0 {
		return errors.New("invalid pid")
	}
	m.SetRawHandle(FormatHandle(h))
	return nil
}

func (m *MemoryStore) ClearHandle() error {
	m.SetRawHandle(nil)
	return nil
}

func (m *MemoryStore) ReadEndpoint() (Endpoint, bool, error) {
	m.mu.Lock()
	b := m.endpoint
	m.mu.Unlock()
	if b == nil {
		return Endpoint{}, false, nil
	}
	e, ok := ParseEndpoint(b)
	return e, ok, nil
}

func (m *MemoryStore) WriteEndpoint(e Endpoint) error {
	if e.Address == "" {
		return errors.New("empty endpoint address")
	}
	m.SetRawEndpoint([]byte(e.Address + "\n"))
	return nil
}

func (m *MemoryStore) ClearEndpoint() error {
	m.SetRawEndpoint(nil)
	return nil
}
