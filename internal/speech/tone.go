package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Tone describes a generated cue: a sum of sine waves.
type Tone struct {
	Duration    time.Duration
	Frequencies []float64
}

// Tones known by the default catalog.
var Tones = map[string]Tone{
	"simple_beep.wav":   {Duration: 500 * time.Millisecond, Frequencies: []float64{800}},
	"loading_chime.wav": {Duration: 2 * time.Second, Frequencies: []float64{440, 880}},
}

// GenerateTone runs `sox -n PATH trim 0.0 D sine F...`.
func GenerateTone(ctx context.Context, sox, path string, tone Tone) error {
	if len(tone.Frequencies) == 0 {
		return fmt.Errorf("tone %s: no frequencies", path)
	}
	args := []string{"-n", path, "trim", "0.0", strconv.FormatFloat(tone.Duration.Seconds(), 'f', -1, 64)}
	for _, f := range tone.Frequencies {
		args = append(args, "sine", strconv.FormatFloat(f, 'f', -1, 64))
	}
	cmd := exec.CommandContext(ctx, sox, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("generating %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
