package control_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/pdsaudio/voicebridge/internal/control"
	"github.com/pdsaudio/voicebridge/internal/engine"
	"github.com/pdsaudio/voicebridge/internal/filter"
	"github.com/pdsaudio/voicebridge/internal/stream"
	"github.com/pdsaudio/voicebridge/pkg/device"
	devmock "github.com/pdsaudio/voicebridge/pkg/device/mock"
	speechmock "github.com/pdsaudio/voicebridge/pkg/provider/speech/mock"
)

var testConfig = device.StreamConfig{SampleRate: 44100, BlockSize: 512}

type fixture struct {
	handler  *control.Handler
	platform *devmock.Platform
	speech   *speechmock.Service
	params   *filter.Store
	engine   *engine.Engine
	streams  *stream.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	platform := devmock.NewPlatform(
		device.Info{ID: 0, Name: "USB Microphone", MaxInput: 1},
		device.Info{ID: 1, Name: "Virtual Sink", MaxOutput: 2},
	)
	params := filter.NewStore(filter.Defaults())
	sections := filter.Design(filter.Defaults(), testConfig.SampleRate)
	eng := engine.New(testConfig.BlockSize, sections, filter.StepState(sections))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	streams := stream.NewManager(platform, eng, params, testConfig, log)
	sp := &speechmock.Service{}

	h := control.NewHandler(control.HandlerConfig{
		Params:        params,
		Engine:        eng,
		Streams:       streams,
		Platform:      platform,
		Speech:        sp,
		SampleRate:    testConfig.SampleRate,
		DefaultInput:  device.ByName("USB Microphone"),
		DefaultOutput: device.ByName("Virtual Sink"),
		Logger:        log,
	})
	return &fixture{handler: h, platform: platform, speech: sp, params: params, engine: eng, streams: streams}
}

func (f *fixture) handle(t *testing.T, msg string) map[string]any {
	t.Helper()
	resp := f.handler.Handle(context.Background(), []byte(msg))
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, resp)
	}
	return out
}

func wantOK(t *testing.T, resp map[string]any) {
	t.Helper()
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("response not ok: %v", resp)
	}
}

func wantError(t *testing.T, resp map[string]any, substr string) {
	t.Helper()
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected failure, got %v", resp)
	}
	msg, _ := resp["error"].(string)
	if !strings.Contains(msg, substr) {
		t.Fatalf("error %q does not mention %q", msg, substr)
	}
}

// ── parameter path ────────────────────────────────────────────────────────────

func TestParameterUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"cutoff": 120, "filterType": "lowpass"}`)
	wantOK(t, resp)

	state := resp["state"].(map[string]any)
	if state["cutoff"] != 120.0 || state["filterType"] != "lowpass" {
		t.Fatalf("state not updated: %v", state)
	}
	// Untouched fields still echo the last-known-good values.
	if state["q"] != 0.7 {
		t.Fatalf("q changed unexpectedly: %v", state["q"])
	}

	// The redesigned cascade is waiting in the engine queue.
	in := make([]float32, testConfig.BlockSize)
	out := make([]float32, testConfig.BlockSize)
	f.engine.Process(in, out, device.Status{})
	if f.engine.Stats().Swaps != 1 {
		t.Fatal("cascade update never reached the engine")
	}
}

func TestParameterCoercion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"cutoff": "150.5", "bypass": 1}`)
	wantOK(t, resp)

	state := resp["state"].(map[string]any)
	if state["cutoff"] != 150.5 {
		t.Fatalf("string cutoff not coerced: %v", state["cutoff"])
	}
	if state["bypass"] != true {
		t.Fatalf("numeric bypass not coerced: %v", state["bypass"])
	}
}

func TestParameterUpdateRejectsUnknownType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"filterType": "reverb"}`)
	wantError(t, resp, "unknown filter type")

	if f.params.Snapshot() != filter.Defaults() {
		t.Fatal("rejected update mutated the parameter store")
	}
}

func TestParameterUpdateRejectsBadNumber(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"cutoff": "loud"}`)
	wantError(t, resp, "not a number")
	if f.params.Snapshot() != filter.Defaults() {
		t.Fatal("rejected update mutated the parameter store")
	}
}

func TestUnrecognizedMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	wantError(t, f.handle(t, `{"volume": 11}`), "no known field")
}

func TestInvalidJSON(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	wantError(t, f.handle(t, `{cutoff:`), "invalid JSON")
}

func TestUnknownAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.handle(t, `{"action": "reboot"}`)
	wantError(t, resp, "unknown action")
	if resp["action"] != "reboot" {
		t.Fatalf("action not echoed: %v", resp)
	}
}

// ── device path ───────────────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"action": "listDevices"}`)
	wantOK(t, resp)
	devs := resp["devices"].([]any)
	if len(devs) != 2 {
		t.Fatalf("got %d devices, want 2", len(devs))
	}
	first := devs[0].(map[string]any)
	if first["name"] != "USB Microphone" || first["maxInput"] != 1.0 {
		t.Fatalf("unexpected device descriptor: %v", first)
	}
}

func TestListDevicesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.platform.DevicesError = errors.New("backend gone")
	wantError(t, f.handle(t, `{"action": "listDevices"}`), "backend gone")
}

func TestSetDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"action": "setDevices", "input": "microphone", "output": 1}`)
	wantOK(t, resp)

	pair := resp["device"].(map[string]any)
	if pair["input"] != "USB Microphone" || pair["output"] != "Virtual Sink" {
		t.Fatalf("unexpected device pair: %v", pair)
	}
	if f.streams.State() != stream.Running {
		t.Fatalf("stream state %s after setDevices", f.streams.State())
	}
}

func TestSetDevicesDefaultsOmittedSides(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.handle(t, `{"action": "setDevices"}`)
	wantOK(t, resp)
	if f.platform.Running() != 1 {
		t.Fatalf("%d streams running, want 1", f.platform.Running())
	}
}

func TestSetDevicesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.platform.OpenError = errors.New("device busy")

	resp := f.handle(t, `{"action": "setDevices", "input": 0, "output": 1}`)
	wantError(t, resp, "device busy")
	if resp["action"] != "setDevices" {
		t.Fatalf("action not echoed: %v", resp)
	}
	if f.streams.State() != stream.Stopped {
		t.Fatalf("stream state %s after failed restart", f.streams.State())
	}
}

// ── speech path ───────────────────────────────────────────────────────────────

func TestTranscribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.TranscribeResult = "testing one two"

	clip := base64.StdEncoding.EncodeToString([]byte("opus-bytes"))
	resp := f.handle(t, `{"action": "transcribe", "audio": "`+clip+`"}`)
	wantOK(t, resp)
	if resp["text"] != "testing one two" {
		t.Fatalf("unexpected transcript: %v", resp)
	}
	if string(f.speech.LastAudio) != "opus-bytes" {
		t.Fatalf("audio not decoded before transcription: %q", f.speech.LastAudio)
	}
}

func TestTranscribeRejectsBadBase64(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	wantError(t, f.handle(t, `{"action": "transcribe", "audio": "%%%"}`), "base64")
	if f.speech.CallCountTranscribe != 0 {
		t.Fatal("backend called despite invalid payload")
	}
}

func TestTTS(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.SynthesizeResult = []byte("mp3-bytes")

	resp := f.handle(t, `{"action": "tts", "text": "hello"}`)
	wantOK(t, resp)
	if resp["voice"] != "alloy" {
		t.Fatalf("default voice not applied: %v", resp["voice"])
	}
	decoded, err := base64.StdEncoding.DecodeString(resp["audio"].(string))
	if err != nil || string(decoded) != "mp3-bytes" {
		t.Fatalf("audio not round-tripped: %v %q", err, decoded)
	}
}

func TestChatAgent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.ChatResult = "a notch filter rejects a narrow band"

	resp := f.handle(t, `{"action": "chatAgent", "message": "what is a notch?"}`)
	wantOK(t, resp)
	if resp["response"] != "a notch filter rejects a narrow band" {
		t.Fatalf("unexpected reply: %v", resp)
	}
	if f.speech.LastMessage != "what is a notch?" {
		t.Fatalf("message not forwarded: %q", f.speech.LastMessage)
	}
}

func TestVoiceToVoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.TranscribeResult = "hello there"
	f.speech.SynthesizeResult = []byte("respoken")

	clip := base64.StdEncoding.EncodeToString([]byte("raw"))
	resp := f.handle(t, `{"action": "voiceToVoice", "audio": "`+clip+`"}`)
	wantOK(t, resp)
	if resp["transcript"] != "hello there" {
		t.Fatalf("transcript missing: %v", resp)
	}
	if resp["voice"] != "nova" {
		t.Fatalf("default voice not applied: %v", resp["voice"])
	}
	if f.speech.LastText != "hello there" {
		t.Fatalf("synthesis did not use the transcript: %q", f.speech.LastText)
	}
}

func TestSpeechErrorPropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.ChatError = errors.New("quota exceeded")
	wantError(t, f.handle(t, `{"action": "chatAgent", "message": "hi"}`), "quota exceeded")
}

func TestSpeechNotConfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	h := control.NewHandler(control.HandlerConfig{
		Params:     f.params,
		Engine:     f.engine,
		Streams:    f.streams,
		Platform:   f.platform,
		SampleRate: testConfig.SampleRate,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	resp := h.Handle(context.Background(), []byte(`{"action": "tts", "text": "hi"}`))
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantError(t, out, "not configured")
}

// A handler bug must degrade into an error frame, never a dropped
// connection.
func TestPanicBecomesErrorResponse(t *testing.T) {
	t.Parallel()

	h := control.NewHandler(control.HandlerConfig{
		// Platform deliberately nil: listDevices will dereference it.
		SampleRate: testConfig.SampleRate,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	resp := h.Handle(context.Background(), []byte(`{"action": "listDevices"}`))
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantError(t, out, "internal error")
}
