// Package mock provides an in-memory speech.Service for unit tests.
//
// Exported Result/Error fields control what each method returns; CallCount
// fields record invocations. All fields are guarded by an internal mutex,
// so the mock is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// Compile-time assertion that Service implements speech.Service.
var _ speech.Service = (*Service)(nil)

// Service is a mock implementation of speech.Service.
type Service struct {
	mu sync.Mutex

	// TranscribeResult and TranscribeError control Transcribe.
	TranscribeResult string
	TranscribeError  error

	// SynthesizeResult and SynthesizeError control Synthesize.
	SynthesizeResult []byte
	SynthesizeError  error

	// ChatResult and ChatError control Chat.
	ChatResult string
	ChatError  error

	// CallCountTranscribe, CallCountSynthesize and CallCountChat record
	// invocations.
	CallCountTranscribe int
	CallCountSynthesize int
	CallCountChat       int

	// LastAudio, LastText, LastVoice and LastMessage capture the most
	// recent arguments.
	LastAudio   []byte
	LastText    string
	LastVoice   string
	LastMessage string
}

// Transcribe implements speech.Service.
func (s *Service) Transcribe(_ context.Context, audio []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountTranscribe++
	s.LastAudio = audio
	return s.TranscribeResult, s.TranscribeError
}

// Synthesize implements speech.Service.
func (s *Service) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSynthesize++
	s.LastText = text
	s.LastVoice = voice
	return s.SynthesizeResult, s.SynthesizeError
}

// Chat implements speech.Service.
func (s *Service) Chat(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountChat++
	s.LastMessage = message
	return s.ChatResult, s.ChatError
}
