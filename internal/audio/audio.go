package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Artifact is a captured or uploaded audio payload. It is immutable once
// constructed; the pipeline hands engines a read-only reference.
type Artifact struct {
	Data       []byte
	Format     string // "wav"
	SampleRate int
	Channels   int
	Duration   float64 // seconds
	CapturedAt time.Time
}

// FormatWAV is the only container the transcription engines accept.
const FormatWAV = "wav"

// FromWAV builds an Artifact from a RIFF/WAVE payload, probing the fmt chunk
// for sample rate and channel count and computing duration from the data
// chunk length.
func FromWAV(data []byte) (*Artifact, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var sampleRate, channels, byteRate int
	var dataLen uint32

	// Walk chunks: each is 4-byte id + 4-byte little-endian size.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
		case "data":
			dataLen = size
		}

		// Chunks are word-aligned.
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}

	if sampleRate == 0 || byteRate == 0 {
		return nil, fmt.Errorf("missing or invalid fmt chunk")
	}

	return &Artifact{
		Data:       data,
		Format:     FormatWAV,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   float64(dataLen) / float64(byteRate),
		CapturedAt: time.Now(),
	}, nil
}

// FromPCM wraps raw 16-bit PCM frames captured by the recorder into a WAV
// artifact so every engine sees the same container. Empty frames are an
// error: a capture that recorded nothing cannot enter the pipeline.
func FromPCM(frames []byte, sampleRate, channels int) (*Artifact, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no audio frames captured")
	}
	return &Artifact{
		Data:       EncodeWAV(frames, sampleRate, channels),
		Format:     FormatWAV,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   float64(len(frames)) / float64(sampleRate*channels*2),
		CapturedAt: time.Now(),
	}, nil
}

// EncodeWAV wraps raw 16-bit PCM frames in a canonical 44-byte WAV header.
func EncodeWAV(frames []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2
	out := make([]byte, 44+len(frames))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(frames)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(channels*2)) // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                 // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(frames)))
	copy(out[44:], frames)

	return out
}
