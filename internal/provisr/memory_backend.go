package provisr

import (
	"encoding/json"
	"sync"
)

// InMemoryStateBackend keeps the snapshot in process memory. Load and Save
// round-trip through JSON so callers never share slices with the backend.
type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	data, err := marshalState(b.snapshot)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := unmarshalState(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := marshalState(state)
	if err != nil {
		return err
	}
	var clone persistedState
	if err := unmarshalState(data, &clone); err != nil {
		return err
	}
	b.snapshot = &clone
	return nil
}

func marshalState(state *persistedState) ([]byte, error) {
	return json.Marshal(state)
}

func unmarshalState(data []byte, state *persistedState) error {
	return json.Unmarshal(data, state)
}
