// Package ffmpeg provides shared FFmpeg utilities and constants.
package ffmpeg

import (
	"bytes"
	"strconv"

	"github.com/earcatch/earcatch/internal/types"
)

// ExtractLastError extracts the last meaningful error line from FFmpeg stderr.
// Returns empty string if no meaningful error found.
func ExtractLastError(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := bytes.Split([]byte(stderr), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := string(bytes.TrimSpace(lines[i]))
		if line != "" {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}
	return ""
}

// BaseInputArgs returns the common FFmpeg arguments for PCM input from stdin.
// These args configure FFmpeg to read raw S16LE mono audio at the capture rate.
func BaseInputArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(types.SampleRate),
		"-ac", "1",
		"-hide_banner",
		"-loglevel", "warning",
		"-i", "pipe:0",
	}
}

// OpusEncodeArgs returns the complete FFmpeg arguments for encoding the
// captured PCM stream to Opus in an Ogg container on stdout.
// The low bitrate keeps recognition uploads small without hurting match rates.
func OpusEncodeArgs() []string {
	args := BaseInputArgs()
	args = append(args,
		"-codec:a", "libopus",
		"-b:a", "16k",
		"-f", "ogg",
		"pipe:1",
	)
	return args
}
