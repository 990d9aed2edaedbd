package sink

import (
	"fmt"
	"sync"

	"github.com/samsamfire/cansource/pkg/datasource"
)

// SourceNames maps a source id to the interface it acquires from,
// writers use it to label messages. The zero value is ready to use.
type SourceNames struct {
	mu    sync.RWMutex
	names map[datasource.SourceID]string
}

func (s *SourceNames) Set(id datasource.SourceID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = make(map[datasource.SourceID]string)
	}
	s.names[id] = name
}

// Get returns the registered name, or "source<id>" if unknown.
func (s *SourceNames) Get(id datasource.SourceID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.names[id]; ok {
		return name
	}
	return fmt.Sprintf("source%d", id)
}
