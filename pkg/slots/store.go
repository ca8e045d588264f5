package slots

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrSlotRange = errors.New("slot index out of range")
	ErrSlotBusy  = errors.New("slot is the target of an active transfer")
	ErrNoSlot    = errors.New("slot is empty")
)

// Store is the bank of sample slots. Indices [0, bank) are the device bank;
// [bank, bank+scratch) are receive-only scratch slots.
type Store struct {
	mu      sync.RWMutex
	bank    int
	scratch int
	slots   []*Slot
	locked  map[int]bool
}

// NewStore creates an empty store.
func NewStore(bank, scratch int) *Store {
	return &Store{
		bank:    bank,
		scratch: scratch,
		slots:   make([]*Slot, bank+scratch),
		locked:  make(map[int]bool),
	}
}

// Len is the total number of slots, scratch included.
func (s *Store) Len() int {
	return s.bank + s.scratch
}

// BankSize is the number of device slots.
func (s *Store) BankSize() int {
	return s.bank
}

// IsReceiveOnly reports whether index is a scratch slot.
func (s *Store) IsReceiveOnly(index int) bool {
	return index >= s.bank && index < s.bank+s.scratch
}

func (s *Store) check(index int) error {
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("%w: %d", ErrSlotRange, index)
	}
	return nil
}

// Get returns a copy of the slot, or nil when it has never been filled.
func (s *Store) Get(index int) (*Slot, error) {
	if err := s.check(index); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[index].Clone(), nil
}

// Set stores a copy of slot at index. The loop is clamped on the way in.
func (s *Store) Set(index int, slot *Slot) error {
	if err := s.check(index); err != nil {
		return err
	}
	if slot == nil {
		return ErrNoSlot
	}
	c := slot.Clone()
	c.Index = index
	c.Name = NormalizeName(c.Name)
	c.ClampLoop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[index] = c
	return nil
}

// Import stores slot unless index is an active session target. It is the
// entry point for file imports; the engine writes through Set.
func (s *Store) Import(index int, slot *Slot) error {
	if s.Locked(index) {
		return ErrSlotBusy
	}
	slot = slot.Clone()
	slot.Edited = true
	slot.Capture = nil
	return s.Set(index, slot)
}

// Clear empties one slot.
func (s *Store) Clear(index int) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[index] {
		return ErrSlotBusy
	}
	s.slots[index] = nil
	return nil
}

// Reset empties every slot that is not locked.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if !s.locked[i] {
			s.slots[i] = nil
		}
	}
}

// Acquire marks index as the target of a session until release is called.
// Editor operations on the slot fail with ErrSlotBusy meanwhile.
func (s *Store) Acquire(index int) (release func(), err error) {
	if err := s.check(index); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[index] {
		return nil, ErrSlotBusy
	}
	s.locked[index] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locked, index)
			s.mu.Unlock()
		})
	}, nil
}

// Locked reports whether index is an active session target.
func (s *Store) Locked(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked[index]
}

// edit applies fn to a live slot under the write lock.
func (s *Store) edit(index int, fn func(*Slot)) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[index] {
		return ErrSlotBusy
	}
	slot := s.slots[index]
	if slot == nil {
		return ErrNoSlot
	}
	fn(slot)
	slot.Edited = true
	return nil
}

// Rename sets the slot name.
func (s *Store) Rename(index int, name string) error {
	return s.edit(index, func(slot *Slot) {
		slot.Name = NormalizeName(name)
	})
}

// SetLoop sets or clears (end <= start) the loop region. The loop travels in
// the dump header, so the capture no longer describes the slot.
func (s *Store) SetLoop(index, start, end int) error {
	return s.edit(index, func(slot *Slot) {
		slot.Loop = &Loop{Start: start, End: end}
		slot.ClampLoop()
		slot.Capture = nil
	})
}

// SetTargetRate sets the rate the slot is sent at. A changed rate drops the
// capture.
func (s *Store) SetTargetRate(index, rate int) error {
	if rate < 0 {
		return fmt.Errorf("invalid rate %d", rate)
	}
	return s.edit(index, func(slot *Slot) {
		if rate != slot.TargetRate {
			slot.Capture = nil
		}
		slot.TargetRate = rate
	})
}

// SetRepitch sets the repitch offset in semitones.
func (s *Store) SetRepitch(index, semitones int) error {
	return s.edit(index, func(slot *Slot) {
		slot.Repitch = semitones
	})
}

// Snapshot returns copies of every slot; empty slots are nil.
func (s *Store) Snapshot() []*Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Slot, len(s.slots))
	for i, slot := range s.slots {
		out[i] = slot.Clone()
	}
	return out
}

// MarkSynced clears the edited flag once the device holds the slot's audio.
func (s *Store) MarkSynced(index int) {
	if s.check(index) != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot := s.slots[index]; slot != nil {
		slot.Edited = false
	}
}
