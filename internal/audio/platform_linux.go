//go:build linux

package audio

import (
	"regexp"
	"strconv"

	"github.com/earcatch/earcatch/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "parec",
		DefaultDevice: "@DEFAULT_SOURCE@",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"--device=" + device,
		"--format=s16le",
		"--rate=" + strconv.Itoa(types.SampleRate),
		"--channels=1",
		"--raw",
	}
}

func (cfg CaptureConfig) ListDevices() []types.AudioDevice {
	return parseDeviceList(&DeviceListConfig{
		Command: []string{"pactl", "list", "short", "sources"},
		// Format: index<TAB>name<TAB>driver<TAB>spec<TAB>state
		DevicePattern: regexp.MustCompile(`^(\d+)\s+(\S+)`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 3 {
				return nil
			}
			return &types.AudioDevice{
				ID:   matches[2],
				Name: matches[2],
			}
		},
		FallbackDevices: []types.AudioDevice{
			{ID: "@DEFAULT_SOURCE@", Name: "Default input (PulseAudio)"},
		},
	})
}
