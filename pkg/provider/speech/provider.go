// Package speech defines the Service interface for the cloud speech
// features reachable over the control channel: transcription,
// text-to-speech, and the audio-engineering chat assistant.
//
// These features are strictly request/response and never touch the filter
// or stream state; the control handler composes them (voice transformation
// is a transcription followed by a synthesis) and ships the results back
// over the same channel.
//
// Implementors must be safe for concurrent use and propagate context
// cancellation promptly.
package speech

import "context"

// DefaultVoice is used when a synthesis request does not name a voice.
const DefaultVoice = "alloy"

// Service is the abstraction over a speech backend.
type Service interface {
	// Transcribe converts a compressed audio clip (as delivered by the
	// control channel, typically WebM/Opus) into text.
	Transcribe(ctx context.Context, audio []byte) (string, error)

	// Synthesize renders text into a compressed audio clip using the given
	// voice. An empty voice selects [DefaultVoice].
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)

	// Chat answers a single audio-engineering question. Stateless: each
	// call is an independent exchange.
	Chat(ctx context.Context, message string) (string, error)
}
