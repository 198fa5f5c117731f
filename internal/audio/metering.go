// Package audio provides microphone capture, device enumeration and level metering.
package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/earcatch/earcatch/internal/types"
)

// MinDB is the minimum dB level (silence).
const MinDB = -60.0

// PeakIntervalSamples is the number of mono samples per peak report.
const PeakIntervalSamples = int(int64(types.SampleRate) * int64(types.PeakInterval) / int64(time.Second))

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	Peak        float64
	SampleCount int
}

// ProcessSamples processes S16LE mono PCM data and accumulates level data.
func ProcessSamples(buf []byte, n int, data *LevelData) {
	for i := 0; i+1 < n; i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		if abs := math.Abs(sample); abs > data.Peak {
			data.Peak = abs
		}
		data.SampleCount++
	}
}

// Levels contains calculated audio levels.
type Levels struct {
	PeakDB   float64 // peak level in dB, floored at MinDB
	PeakNorm float64 // peak normalized via 10^(dB/20), range 0..1
}

// CalculateLevels computes peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 || data.Peak == 0 {
		return Levels{PeakDB: MinDB, PeakNorm: NormalizePeak(MinDB)}
	}

	// Reference: 32768 for 16-bit audio
	db := max(20*math.Log10(data.Peak/32768.0), MinDB)

	return Levels{PeakDB: db, PeakNorm: NormalizePeak(db)}
}

// NormalizePeak converts a dB level to a normalized amplitude in 0..1.
func NormalizePeak(db float64) float64 {
	return math.Pow(10, db/20)
}

// ResetLevelData resets accumulators for the next measurement period.
func ResetLevelData(data *LevelData) {
	data.Peak = 0
	data.SampleCount = 0
}
