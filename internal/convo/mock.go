package convo

import "sync"

// MockRenderer records every unit it is handed. Tests drive playback by
// calling the session's OnPlaybackComplete themselves, or set AutoComplete
// to acknowledge each unit synchronously.
type MockRenderer struct {
	mu      sync.Mutex
	spoken  []SpeakableUnit
	cancels int

	// AutoComplete, when set, is invoked synchronously after each Speak.
	// Point it at the owning session's OnPlaybackComplete to simulate an
	// instant renderer.
	AutoComplete func()
}

func NewMockRenderer() *MockRenderer {
	return &MockRenderer{}
}

func (m *MockRenderer) Speak(unit SpeakableUnit) {
	m.mu.Lock()
	m.spoken = append(m.spoken, unit)
	auto := m.AutoComplete
	m.mu.Unlock()

	if auto != nil {
		auto()
	}
}

func (m *MockRenderer) CancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
}

// Spoken returns a copy of every unit received so far, in order.
func (m *MockRenderer) Spoken() []SpeakableUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SpeakableUnit, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// SpokenTexts returns just the text of every unit received so far.
func (m *MockRenderer) SpokenTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	for i, u := range m.spoken {
		out[i] = u.Text
	}
	return out
}

// Cancels reports how many CancelPending calls arrived.
func (m *MockRenderer) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}
