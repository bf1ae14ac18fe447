// Package associations answers whether a recipient association accepts
// donations. Association management lives elsewhere; this service reads a
// static list.
package associations

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknown  = errors.New("unknown association")
	ErrInactive = errors.New("association is not accepting donations")
)

type Association struct {
	Id     string `yaml:"id"`
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
}

type Config struct {
	Associations []Association
}

type Static struct {
	mu           sync.RWMutex
	associations map[string]Association
}

func New(config Config) (s *Static) {
	s = &Static{associations: make(map[string]Association, len(config.Associations))}
	for _, a := range config.Associations {
		s.associations[a.Id] = a
	}
	return s
}

// CheckActive returns nil when id accepts donations
func (s *Static) CheckActive(id string) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, found := s.associations[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	if !a.Active {
		return fmt.Errorf("%w: %s", ErrInactive, a.Name)
	}
	return nil
}

// SetActive toggles an association, eg. when a campaign closes
func (s *Static) SetActive(id string, active bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, found := s.associations[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	a.Active = active
	s.associations[id] = a
	return nil
}
