package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stereoFrames builds an S16LE buffer with the same value on both channels.
func stereoFrames(value int16, frames int) []byte {
	buf := make([]byte, frames*4)
	for i := 0; i < len(buf); i += 4 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(value))
		binary.LittleEndian.PutUint16(buf[i+2:], uint16(value))
	}
	return buf
}

func TestCalculateLevelsSilence(t *testing.T) {
	var data LevelData
	buf := stereoFrames(0, 100)
	ProcessSamples(buf, len(buf), &data)

	levels := CalculateLevels(&data)
	assert.Equal(t, MinDB, levels.RMSLeft)
	assert.Equal(t, MinDB, levels.RMSRight)
	assert.Equal(t, MinDB, levels.Overall())
	assert.Zero(t, levels.ClipLeft)
}

func TestCalculateLevelsFullScale(t *testing.T) {
	var data LevelData
	buf := stereoFrames(32767, 100)
	ProcessSamples(buf, len(buf), &data)

	levels := CalculateLevels(&data)
	assert.InDelta(t, 0.0, levels.RMSLeft, 0.01, "full-scale square wave is ~0 dBFS")
	assert.InDelta(t, 0.0, levels.PeakLeft, 0.01)
	assert.Equal(t, 100, levels.ClipLeft)
	assert.Equal(t, 100, levels.ClipRight)
}

func TestCalculateLevelsNoSamples(t *testing.T) {
	var data LevelData
	levels := CalculateLevels(&data)
	assert.Equal(t, MinDB, levels.RMSLeft)
	assert.Equal(t, MinDB, levels.PeakRight)
}

func TestLevelDataReset(t *testing.T) {
	var data LevelData
	buf := stereoFrames(16000, 10)
	ProcessSamples(buf, len(buf), &data)
	assert.Equal(t, 10, data.SampleCount)

	data.Reset()
	assert.Zero(t, data.SampleCount)
	assert.Zero(t, data.SumSquaresL)
	assert.Zero(t, data.PeakR)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(-60, -60, 0))
	assert.Equal(t, 1.0, Normalize(0, -60, 0))
	assert.InDelta(t, 0.5, Normalize(-30, -60, 0), 1e-9)

	// Out-of-range readings clamp.
	assert.Equal(t, 0.0, Normalize(-120, -60, 0))
	assert.Equal(t, 1.0, Normalize(6, -60, 0))

	// Degenerate range never divides by zero.
	assert.Equal(t, 0.0, Normalize(-10, 0, 0))
	assert.Equal(t, 0.0, Normalize(-10, 0, -60))
}

func TestPeakHolderHoldsThenDecays(t *testing.T) {
	p := NewPeakHolder()
	p.SetHoldDuration(100 * time.Millisecond)
	now := time.Now()

	assert.Equal(t, -6.0, p.Update(-6, now))
	// A quieter reading inside the hold window keeps the held peak.
	assert.Equal(t, -6.0, p.Update(-30, now.Add(50*time.Millisecond)))
	// A louder reading replaces it immediately.
	assert.Equal(t, -3.0, p.Update(-3, now.Add(60*time.Millisecond)))
	// After the hold window, the current reading wins.
	assert.Equal(t, -30.0, p.Update(-30, now.Add(300*time.Millisecond)))
}

func TestPeakHolderReset(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()
	p.Update(-3, now)
	p.Reset()
	assert.Equal(t, -20.0, p.Update(-20, now.Add(time.Millisecond)))
}
