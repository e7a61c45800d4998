package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pdsaudio/voicebridge/pkg/device"
	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	audio  map[string]func(AudioConfig) (device.Platform, error)
	speech map[string]func(ProviderEntry) (speech.Service, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:  make(map[string]func(AudioConfig) (device.Platform, error)),
		speech: make(map[string]func(ProviderEntry) (speech.Service, error)),
	}
}

// RegisterAudio registers an audio platform factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (device.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterSpeech registers a speech service factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateAudio instantiates an audio platform using the factory registered
// under cfg.Backend. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateAudio(cfg AudioConfig) (device.Platform, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateSpeech instantiates a speech service using the factory registered
// under entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Service, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
