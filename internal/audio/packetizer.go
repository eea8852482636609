package audio

import "fmt"

// FramePacketizer repacks arbitrarily sized byte chunks into fixed-size audio
// frames. Bytes accumulate via Feed and leave the front of the buffer exactly
// one frame at a time; a partial frame is never emitted. The packetizer is
// owned by a single session and is not safe for concurrent use.
type FramePacketizer struct {
	frameSize int
	buf       []byte
}

// NewFramePacketizer creates a packetizer emitting frames of frameSize bytes.
// A non-positive frame size is a programmer error.
func NewFramePacketizer(frameSize int) *FramePacketizer {
	if frameSize <= 0 {
		panic(fmt.Sprintf("audio: non-positive frame size %d", frameSize))
	}
	return &FramePacketizer{frameSize: frameSize}
}

// Feed appends chunk to the accumulation buffer and returns every complete
// frame now available, in FIFO order. Byte order is preserved exactly as
// received. Returned frames are copies and remain valid after further feeds.
func (p *FramePacketizer) Feed(chunk []byte) [][]byte {
	p.buf = append(p.buf, chunk...)

	var frames [][]byte
	for len(p.buf) >= p.frameSize {
		frame := make([]byte, p.frameSize)
		copy(frame, p.buf[:p.frameSize])
		p.buf = p.buf[p.frameSize:]
		frames = append(frames, frame)
	}
	return frames
}

// Flush returns whatever partial tail remains buffered, shorter than one
// frame and possibly empty, without padding or discarding it. The packetizer
// is empty afterwards.
func (p *FramePacketizer) Flush() []byte {
	tail := make([]byte, len(p.buf))
	copy(tail, p.buf)
	p.buf = nil
	return tail
}

// Buffered returns the number of bytes currently accumulated.
func (p *FramePacketizer) Buffered() int {
	return len(p.buf)
}

// FrameSize returns the configured frame size in bytes.
func (p *FramePacketizer) FrameSize() int {
	return p.frameSize
}
