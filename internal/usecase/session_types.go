package usecase

import (
	"sync"

	"podium/internal/domain"
)

type activeSession struct {
	machine *Machine
	config  domain.SessionConfig
	cancel  func()

	stateMu    sync.Mutex
	final      *domain.SessionState
	completion *Completion
	persistErr error
	persisting bool

	// Closed once the machine stopped and the first persistence attempt ended.
	settled chan struct{}
}

func (s *activeSession) snapshot() domain.SessionState {
	s.stateMu.Lock()
	final := s.final
	s.stateMu.Unlock()
	if final != nil {
		return final.Clone()
	}
	return s.machine.Snapshot()
}

func (s *activeSession) setFinal(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.final = &state
}

func (s *activeSession) persistResult() (*Completion, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.completion, s.persistErr
}
