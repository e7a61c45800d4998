// Package openai provides a speech service backed by the OpenAI API:
// Whisper for transcription, the TTS endpoint for synthesis, and a chat
// completion for the assistant.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// Compile-time assertion that Service implements speech.Service.
var _ speech.Service = (*Service)(nil)

const (
	defaultTranscribeModel = "whisper-1"
	defaultSpeechModel     = "tts-1"
	defaultChatModel       = "gpt-4o-mini"

	chatMaxTokens = 500
)

// systemPrompt frames the assistant as a sound-engineering helper for the
// filter UI.
const systemPrompt = `You are an expert in live sound and audio processing.

This application offers:
- Audio filters (low-pass, high-pass, band-pass, notch)
- AI transcription and voice transformation
- Realtime FFT visualisation

Answer clearly and concisely. Your role is to CLARIFY audio and filter concepts.`

// config holds optional configuration for the service.
type config struct {
	baseURL         string
	language        string
	transcribeModel string
	speechModel     string
	chatModel       string
	timeout         time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 transcription language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithModels overrides the transcription, synthesis, and chat models.
// Empty strings keep the defaults.
func WithModels(transcribe, tts, chat string) Option {
	return func(c *config) {
		if transcribe != "" {
			c.transcribeModel = transcribe
		}
		if tts != "" {
			c.speechModel = tts
		}
		if chat != "" {
			c.chatModel = chat
		}
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Service implements speech.Service using the OpenAI API.
type Service struct {
	client oai.Client
	cfg    config
}

// New constructs a new OpenAI speech Service.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := config{
		transcribeModel: defaultTranscribeModel,
		speechModel:     defaultSpeechModel,
		chatModel:       defaultChatModel,
	}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Service{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

// Transcribe implements speech.Service.
func (s *Service) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("openai: empty audio payload")
	}

	params := oai.AudioTranscriptionNewParams{
		Model: s.cfg.transcribeModel,
		File:  oai.File(bytes.NewReader(audio), "clip.webm", "audio/webm"),
	}
	if s.cfg.language != "" {
		params.Language = param.NewOpt(s.cfg.language)
	}

	res, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return res.Text, nil
}

// Synthesize implements speech.Service.
func (s *Service) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai: empty synthesis text")
	}
	if voice == "" {
		voice = speech.DefaultVoice
	}

	res, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model: s.cfg.speechModel,
		Voice: oai.AudioSpeechNewParamsVoice(voice),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech synthesis: %w", err)
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read synthesized audio: %w", err)
	}
	return audio, nil
}

// Chat implements speech.Service.
func (s *Service) Chat(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("openai: empty chat message")
	}

	resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.cfg.chatModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(message),
		},
		MaxCompletionTokens: param.NewOpt(int64(chatMaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
