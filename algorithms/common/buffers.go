package common

import (
	"fmt"
)

// FrameAssembler collects an arbitrary stream of samples into consecutive,
// non-overlapping frames of a fixed size. Emitted frames are fresh slices;
// the assembler never hands out its internal buffer.
type FrameAssembler struct {
	buffer    []float64
	frameSize int
	writePos  int
}

// NewFrameAssembler creates an assembler for frames of frameSize samples.
func NewFrameAssembler(frameSize int) (*FrameAssembler, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive: %d", frameSize)
	}
	return &FrameAssembler{
		buffer:    make([]float64, frameSize),
		frameSize: frameSize,
	}, nil
}

// AddSamples appends samples and returns every frame completed by them.
func (fa *FrameAssembler) AddSamples(samples []float64) [][]float64 {
	var frames [][]float64

	for len(samples) > 0 {
		n := copy(fa.buffer[fa.writePos:], samples)
		fa.writePos += n
		samples = samples[n:]

		if fa.writePos == fa.frameSize {
			frame := make([]float64, fa.frameSize)
			copy(frame, fa.buffer)
			frames = append(frames, frame)
			fa.writePos = 0
		}
	}

	return frames
}

// Pending returns the number of buffered samples not yet emitted.
func (fa *FrameAssembler) Pending() int {
	return fa.writePos
}

// Flush returns the buffered partial frame zero-padded to full size, or nil
// when nothing is pending.
func (fa *FrameAssembler) Flush() []float64 {
	if fa.writePos == 0 {
		return nil
	}

	frame := make([]float64, fa.frameSize)
	copy(frame, fa.buffer[:fa.writePos])
	fa.Reset()
	return frame
}

// Reset drops any pending samples.
func (fa *FrameAssembler) Reset() {
	fa.writePos = 0
	for i := range fa.buffer {
		fa.buffer[i] = 0.0
	}
}

// FrameSize returns the configured frame size
func (fa *FrameAssembler) FrameSize() int {
	return fa.frameSize
}
