// Package control implements the WebSocket control channel: parameter
// updates, device switching and enumeration, and the cloud speech actions.
//
// The protocol is message-oriented with exactly one response per request.
// Messages carrying an "action" field dispatch to the matching handler;
// messages without one are treated as legacy parameter updates carrying any
// subset of the filter fields. Every failure produces `{ok: false, error}`
// so a misbehaving client can never wedge the channel.
package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pdsaudio/voicebridge/internal/engine"
	"github.com/pdsaudio/voicebridge/internal/filter"
	"github.com/pdsaudio/voicebridge/internal/observe"
	"github.com/pdsaudio/voicebridge/internal/stream"
	"github.com/pdsaudio/voicebridge/pkg/device"
	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// paramKeys are the filter fields a legacy parameter message may carry.
var paramKeys = []string{"filterType", "cutoff", "q", "filterGain", "outputGain", "bypass"}

// HandlerConfig wires the handler to the rest of the bridge. Speech is
// optional; when nil the AI actions report that the feature is not
// configured.
type HandlerConfig struct {
	Params   *filter.Store
	Engine   *engine.Engine
	Streams  *stream.Manager
	Platform device.Platform
	Speech   speech.Service

	SampleRate float64

	// DefaultInput and DefaultOutput fill in for setDevices requests that
	// omit a side of the pair.
	DefaultInput  device.Selector
	DefaultOutput device.Selector

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Handler processes one control message at a time. Safe for concurrent use:
// all mutable state lives behind the Store, the engine queue, and the
// stream manager's lock.
type Handler struct {
	cfg HandlerConfig
	log *slog.Logger
}

// NewHandler creates a Handler. Metrics and Logger fall back to the
// package defaults when nil.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg, log: cfg.Logger}
}

// Handle decodes one request and returns the response to send back. It
// never returns nil and never panics: handler bugs degrade into an error
// response on the wire.
func (h *Handler) Handle(ctx context.Context, raw []byte) (resp []byte) {
	start := time.Now()
	action := ""

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("control handler panic", "panic", r, "action", action)
			resp = errorResponse(action, fmt.Sprintf("internal error: %v", r))
		}
		status := "ok"
		if !responseOK(resp) {
			status = "error"
		}
		name := action
		if name == "" {
			name = "parameters"
		}
		h.cfg.Metrics.RecordControlRequest(ctx, name, status, time.Since(start).Seconds())
	}()

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errorResponse("", "invalid JSON: "+err.Error())
	}
	action, _ = payload["action"].(string)

	switch action {
	case "":
		return h.handleParams(ctx, payload)
	case "setDevices":
		return h.handleSetDevices(ctx, payload)
	case "listDevices":
		return h.handleListDevices(payload)
	case "transcribe":
		return h.handleTranscribe(ctx, payload)
	case "tts":
		return h.handleTTS(ctx, payload)
	case "chatAgent":
		return h.handleChat(ctx, payload)
	case "voiceToVoice":
		return h.handleVoiceToVoice(ctx, payload)
	default:
		return errorResponse(action, fmt.Sprintf("unknown action %q", action))
	}
}

// ── parameter path ────────────────────────────────────────────────────────────

type paramsResponse struct {
	OK    bool          `json:"ok"`
	State filter.Params `json:"state"`
}

// handleParams merges a legacy parameter message, redesigns the cascade,
// and hands it to the engine. A rejected update leaves everything as it
// was.
func (h *Handler) handleParams(ctx context.Context, payload map[string]any) []byte {
	update, touched, err := parseUpdate(payload)
	if err != nil {
		h.cfg.Metrics.RecordParameterUpdate(ctx, "error")
		return errorResponse("", err.Error())
	}
	if !touched {
		h.cfg.Metrics.RecordParameterUpdate(ctx, "error")
		return errorResponse("", "message carries no known field")
	}

	state, err := h.cfg.Params.Apply(update)
	if err != nil {
		h.cfg.Metrics.RecordParameterUpdate(ctx, "error")
		return errorResponse("", err.Error())
	}

	sections := filter.Design(state, h.cfg.SampleRate)
	h.cfg.Engine.Enqueue(engine.Update{Sections: sections, State: filter.StepState(sections)})
	h.cfg.Engine.ApplyParams(state)

	h.cfg.Metrics.RecordParameterUpdate(ctx, "ok")
	h.log.Debug("filter parameters updated",
		"type", state.Type, "cutoff", state.Cutoff, "q", state.Q, "bypass", state.Bypass)
	return marshal(paramsResponse{OK: true, State: state})
}

// parseUpdate coerces the loosely typed JSON payload into a typed Update.
// touched reports whether any known field was present at all.
func parseUpdate(payload map[string]any) (u filter.Update, touched bool, err error) {
	for _, key := range paramKeys {
		v, ok := payload[key]
		if !ok {
			continue
		}
		touched = true

		switch key {
		case "filterType":
			s, ok := v.(string)
			if !ok {
				return u, touched, fmt.Errorf("filterType must be a string, got %T", v)
			}
			typ := filter.Type(s)
			u.Type = &typ
		case "bypass":
			b, err := toBool(v)
			if err != nil {
				return u, touched, fmt.Errorf("bypass: %w", err)
			}
			u.Bypass = &b
		default:
			f, err := toFloat(v)
			if err != nil {
				return u, touched, fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "cutoff":
				u.Cutoff = &f
			case "q":
				u.Q = &f
			case "filterGain":
				u.GainDB = &f
			case "outputGain":
				u.OutputGain = &f
			}
		}
	}
	return u, touched, nil
}

// toFloat accepts the numeric shapes JSON clients actually send: numbers
// and numeric strings.
func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// toBool accepts booleans plus the common loose encodings (0/1, "true").
func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

// ── device path ───────────────────────────────────────────────────────────────

type setDevicesResponse struct {
	OK     bool       `json:"ok"`
	Action string     `json:"action"`
	Device devicePair `json:"device"`
}

type devicePair struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (h *Handler) handleSetDevices(ctx context.Context, payload map[string]any) []byte {
	start := time.Now()

	input := h.cfg.DefaultInput
	if v, ok := payload["input"]; ok {
		sel, err := device.ParseSelector(v)
		if err != nil {
			return errorResponse("setDevices", err.Error())
		}
		input = sel
	}
	output := h.cfg.DefaultOutput
	if v, ok := payload["output"]; ok {
		sel, err := device.ParseSelector(v)
		if err != nil {
			return errorResponse("setDevices", err.Error())
		}
		output = sel
	}

	in, out, err := h.cfg.Streams.Restart(input, output)
	if err != nil {
		h.cfg.Metrics.RecordRestart(ctx, "error", time.Since(start).Seconds())
		return errorResponse("setDevices", err.Error())
	}
	h.cfg.Metrics.RecordRestart(ctx, "ok", time.Since(start).Seconds())

	return marshal(setDevicesResponse{
		OK:     true,
		Action: "setDevices",
		Device: devicePair{Input: in.Name, Output: out.Name},
	})
}

type listDevicesResponse struct {
	OK      bool          `json:"ok"`
	Action  string        `json:"action"`
	Devices []device.Info `json:"devices"`
}

func (h *Handler) handleListDevices(map[string]any) []byte {
	devs, err := h.cfg.Platform.Devices()
	if err != nil {
		return errorResponse("listDevices", err.Error())
	}
	return marshal(listDevicesResponse{OK: true, Action: "listDevices", Devices: devs})
}

// ── speech path ───────────────────────────────────────────────────────────────

type transcribeResponse struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
	Text   string `json:"text"`
}

func (h *Handler) handleTranscribe(ctx context.Context, payload map[string]any) []byte {
	if h.cfg.Speech == nil {
		return errorResponse("transcribe", "speech features are not configured")
	}
	audio, err := audioField(payload)
	if err != nil {
		return errorResponse("transcribe", err.Error())
	}

	start := time.Now()
	text, err := h.cfg.Speech.Transcribe(ctx, audio)
	if err != nil {
		h.cfg.Metrics.RecordSpeechRequest(ctx, "transcribe", "error", time.Since(start).Seconds())
		return errorResponse("transcribe", err.Error())
	}
	h.cfg.Metrics.RecordSpeechRequest(ctx, "transcribe", "ok", time.Since(start).Seconds())
	return marshal(transcribeResponse{OK: true, Action: "transcribe", Text: text})
}

type ttsResponse struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
	Audio  string `json:"audio"`
	Voice  string `json:"voice"`
}

func (h *Handler) handleTTS(ctx context.Context, payload map[string]any) []byte {
	if h.cfg.Speech == nil {
		return errorResponse("tts", "speech features are not configured")
	}
	text, _ := payload["text"].(string)
	voice, _ := payload["voice"].(string)
	if voice == "" {
		voice = speech.DefaultVoice
	}

	start := time.Now()
	audio, err := h.cfg.Speech.Synthesize(ctx, text, voice)
	if err != nil {
		h.cfg.Metrics.RecordSpeechRequest(ctx, "tts", "error", time.Since(start).Seconds())
		return errorResponse("tts", err.Error())
	}
	h.cfg.Metrics.RecordSpeechRequest(ctx, "tts", "ok", time.Since(start).Seconds())
	return marshal(ttsResponse{
		OK:     true,
		Action: "tts",
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Voice:  voice,
	})
}

type chatResponse struct {
	OK       bool   `json:"ok"`
	Action   string `json:"action"`
	Response string `json:"response"`
}

func (h *Handler) handleChat(ctx context.Context, payload map[string]any) []byte {
	if h.cfg.Speech == nil {
		return errorResponse("chatAgent", "speech features are not configured")
	}
	message, _ := payload["message"].(string)

	start := time.Now()
	reply, err := h.cfg.Speech.Chat(ctx, message)
	if err != nil {
		h.cfg.Metrics.RecordSpeechRequest(ctx, "chat", "error", time.Since(start).Seconds())
		return errorResponse("chatAgent", err.Error())
	}
	h.cfg.Metrics.RecordSpeechRequest(ctx, "chat", "ok", time.Since(start).Seconds())
	return marshal(chatResponse{OK: true, Action: "chatAgent", Response: reply})
}

type voiceToVoiceResponse struct {
	OK         bool   `json:"ok"`
	Action     string `json:"action"`
	Transcript string `json:"transcript"`
	Audio      string `json:"audio"`
	Voice      string `json:"voice"`
}

// handleVoiceToVoice re-speaks the caller's clip in a different voice: a
// transcription followed by a synthesis of the transcript.
func (h *Handler) handleVoiceToVoice(ctx context.Context, payload map[string]any) []byte {
	if h.cfg.Speech == nil {
		return errorResponse("voiceToVoice", "speech features are not configured")
	}
	audio, err := audioField(payload)
	if err != nil {
		return errorResponse("voiceToVoice", err.Error())
	}
	voice, _ := payload["voice"].(string)
	if voice == "" {
		voice = "nova"
	}

	start := time.Now()
	transcript, err := h.cfg.Speech.Transcribe(ctx, audio)
	if err != nil {
		h.cfg.Metrics.RecordSpeechRequest(ctx, "voiceToVoice", "error", time.Since(start).Seconds())
		return errorResponse("voiceToVoice", err.Error())
	}
	spoken, err := h.cfg.Speech.Synthesize(ctx, transcript, voice)
	if err != nil {
		h.cfg.Metrics.RecordSpeechRequest(ctx, "voiceToVoice", "error", time.Since(start).Seconds())
		return errorResponse("voiceToVoice", err.Error())
	}
	h.cfg.Metrics.RecordSpeechRequest(ctx, "voiceToVoice", "ok", time.Since(start).Seconds())

	return marshal(voiceToVoiceResponse{
		OK:         true,
		Action:     "voiceToVoice",
		Transcript: transcript,
		Audio:      base64.StdEncoding.EncodeToString(spoken),
		Voice:      voice,
	})
}

// audioField extracts and decodes the base64 "audio" payload field.
func audioField(payload map[string]any) ([]byte, error) {
	b64, _ := payload["audio"].(string)
	if b64 == "" {
		return nil, fmt.Errorf("missing audio payload")
	}
	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("audio is not valid base64: %w", err)
	}
	return audio, nil
}

// ── response plumbing ─────────────────────────────────────────────────────────

type failureResponse struct {
	OK     bool   `json:"ok"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error"`
}

func errorResponse(action, msg string) []byte {
	return marshal(failureResponse{OK: false, Action: action, Error: msg})
}

// marshal encodes a response struct. The structs here contain only
// marshalable fields, so failure means a programming error; it degrades to
// a generic error frame rather than a dropped response.
func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"ok":false,"error":"internal encoding error"}`)
	}
	return data
}

// responseOK reports whether an encoded response carries "ok": true.
func responseOK(resp []byte) bool {
	var probe struct {
		OK bool `json:"ok"`
	}
	return json.Unmarshal(resp, &probe) == nil && probe.OK
}
