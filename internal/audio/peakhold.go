package audio

import "time"

// PeakHoldDuration is how long peaks are held before decay.
const PeakHoldDuration = 1500 * time.Millisecond

// PeakHolder tracks peak-hold state for a level meter.
type PeakHolder struct {
	heldPeak     float64
	peakHoldTime time.Time
}

// NewPeakHolder creates a new peak holder initialized to silence.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{}
}

// Update updates the held peak based on the current normalized peak and time.
// Returns the held peak value.
func (p *PeakHolder) Update(peak float64, now time.Time) float64 {
	if peak >= p.heldPeak || now.Sub(p.peakHoldTime) > PeakHoldDuration {
		p.heldPeak = peak
		p.peakHoldTime = now
	}
	return p.heldPeak
}

// Reset resets the peak hold to silence.
func (p *PeakHolder) Reset() {
	p.heldPeak = 0
	p.peakHoldTime = time.Time{}
}
