package action

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var ErrNoAudioPlayer = errors.New("no audio player available")

// audioCandidates are tried in order when no player is configured.
var audioCandidates = map[string][][]string{
	"linux": {
		{"paplay"},
		{"pw-play"},
		{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
		{"aplay", "-q"},
	},
	"darwin": {
		{"afplay"},
	},
	"freebsd": {
		{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
	},
}

// DetectAudioPlayer returns the first known player found on PATH for the
// current OS, or nil.
func DetectAudioPlayer() []string {
	return detectAudioPlayer(runtime.GOOS, exec.LookPath)
}

func detectAudioPlayer(goos string, lookPath func(string) (string, error)) []string {
	for _, argv := range audioCandidates[goos] {
		if _, err := lookPath(argv[0]); err == nil {
			return append([]string(nil), argv...)
		}
	}
	return nil
}

// AudioPlayer plays sound files through an external player process.
type AudioPlayer struct {
	argv     []string
	launcher *Launcher
}

// NewAudioPlayer uses argv as the player command line; the file path is
// appended as the last argument. An empty argv triggers detection.
func NewAudioPlayer(argv []string, launcher *Launcher) *AudioPlayer {
	clean := make([]string, 0, len(argv))
	for _, a := range argv {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		clean = DetectAudioPlayer()
	}
	return &AudioPlayer{argv: clean, launcher: launcher}
}

// Player returns the resolved player command line.
func (p *AudioPlayer) Player() []string { return append([]string(nil), p.argv...) }

// Play starts playback of path and returns once the player is running.
func (p *AudioPlayer) Play(path string) error {
	if len(p.argv) == 0 {
		return ErrNoAudioPlayer
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("audio file %s is a directory", path)
	}
	args := append(append([]string(nil), p.argv[1:]...), path)
	if _, err := p.launcher.Launch(p.argv[0], args); err != nil {
		return fmt.Errorf("play %s: %w", path, err)
	}
	return nil
}
