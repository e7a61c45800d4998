package resilience

import (
	"context"

	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// SpeechBreaker implements [speech.Service] with a shared circuit breaker
// across all actions. The cloud backend is one endpoint; if transcription is
// timing out, synthesis is too, so per-action breakers would just multiply
// the probe traffic.
type SpeechBreaker struct {
	inner   speech.Service
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ speech.Service = (*SpeechBreaker)(nil)

// NewSpeechBreaker wraps svc with a circuit breaker configured by cfg.
func NewSpeechBreaker(svc speech.Service, cfg Config) *SpeechBreaker {
	if cfg.Name == "" {
		cfg.Name = "speech"
	}
	return &SpeechBreaker{
		inner:   svc,
		breaker: NewCircuitBreaker(cfg),
	}
}

// State exposes the breaker state for diagnostics.
func (s *SpeechBreaker) State() State {
	return s.breaker.State()
}

// Transcribe implements [speech.Service].
func (s *SpeechBreaker) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var text string
	err := s.breaker.Execute(func() error {
		var err error
		text, err = s.inner.Transcribe(ctx, audio)
		return err
	})
	return text, err
}

// Synthesize implements [speech.Service].
func (s *SpeechBreaker) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	err := s.breaker.Execute(func() error {
		var err error
		audio, err = s.inner.Synthesize(ctx, text, voice)
		return err
	})
	return audio, err
}

// Chat implements [speech.Service].
func (s *SpeechBreaker) Chat(ctx context.Context, message string) (string, error) {
	var reply string
	err := s.breaker.Execute(func() error {
		var err error
		reply, err = s.inner.Chat(ctx, message)
		return err
	})
	return reply, err
}
