package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store persists the hardware address to identifier mapping.
type Store interface {
	// Lookup returns the identifier for hwAddr. ok is false when the
	// address has never been assigned.
	Lookup(ctx context.Context, hwAddr string) (id string, ok bool, err error)

	// Assign records id for hwAddr, replacing any previous identifier.
	Assign(ctx context.Context, hwAddr, id string) error

	// Remove forgets hwAddr. Removing an unknown address is not an error.
	Remove(ctx context.Context, hwAddr string) error

	// LookupOrAssign returns the identifier for hwAddr, creating one when
	// none exists. created reports whether a new identifier was stored.
	LookupOrAssign(ctx context.Context, hwAddr string) (id string, created bool, err error)
}

// SpecCache is implemented by stores that keep the last specification a
// device reported next to its identifier.
type SpecCache interface {
	SaveSpec(ctx context.Context, hwAddr string, spec []byte) error
	LoadSpec(ctx context.Context, hwAddr string) ([]byte, bool, error)
}

// NewID returns a fresh device identifier.
func NewID() string {
	return uuid.NewString()
}

// MemoryStore keeps identities in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	ids   map[string]string // hwAddr -> id
	specs map[string][]byte
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ SpecCache = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:   make(map[string]string),
		specs: make(map[string][]byte),
	}
}

func (s *MemoryStore) Lookup(_ context.Context, hwAddr string) (string, bool, error) {
	if hwAddr == "" {
		return "", false, ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[hwAddr]
	return id, ok, nil
}

func (s *MemoryStore) Assign(_ context.Context, hwAddr, id string) error {
	if err := validate(hwAddr, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, existing := range s.ids {
		if existing == id && addr != hwAddr {
			return ErrIDInUse
		}
	}
	s.ids[hwAddr] = id
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, hwAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, hwAddr)
	delete(s.specs, hwAddr)
	return nil
}

func (s *MemoryStore) LookupOrAssign(_ context.Context, hwAddr string) (string, bool, error) {
	if hwAddr == "" {
		return "", false, ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[hwAddr]; ok {
		return id, false, nil
	}
	id := NewID()
	s.ids[hwAddr] = id
	return id, true, nil
}

func (s *MemoryStore) SaveSpec(_ context.Context, hwAddr string, spec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[hwAddr]; !ok {
		return ErrInvalidAddress
	}
	s.specs[hwAddr] = append([]byte(nil), spec...)
	return nil
}

func (s *MemoryStore) LoadSpec(_ context.Context, hwAddr string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[hwAddr]
	return append([]byte(nil), spec...), ok, nil
}

func validate(hwAddr, id string) error {
	if hwAddr == "" {
		return ErrInvalidAddress
	}
	if id == "" {
		return ErrInvalidID
	}
	return nil
}
