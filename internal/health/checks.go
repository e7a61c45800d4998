package health

import (
	"context"
	"fmt"

	"github.com/pdsaudio/voicebridge/internal/stream"
	"github.com/pdsaudio/voicebridge/pkg/device"
)

// Devices reports ready when the audio backend can enumerate at least one
// device.
func Devices(p device.Platform) Checker {
	return Checker{
		Name: "devices",
		Check: func(_ context.Context) error {
			devs, err := p.Devices()
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				return fmt.Errorf("no audio devices enumerable")
			}
			return nil
		},
	}
}

// Stream reports ready while the audio stream is running. During a restart
// the bridge is briefly not ready, which is exactly what a probe should see.
func Stream(m *stream.Manager) Checker {
	return Checker{
		Name: "stream",
		Check: func(_ context.Context) error {
			if s := m.State(); s != stream.Running {
				return fmt.Errorf("stream is %s", s)
			}
			return nil
		},
	}
}
