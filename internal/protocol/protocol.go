package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol constants
const (
	// Handshake is sent once to the device to register as a stream listener
	Handshake = "hello"

	// MaxDatagramSize is the largest payload the device sends
	MaxDatagramSize = 2048

	// BytesPerSample for little-endian signed 16-bit PCM
	BytesPerSample = 2

	// PCMScale maps int16 samples onto [-1.0, 1.0)
	PCMScale = 32768.0

	// leadingZeroPair is the number of zero samples the device may prefix to a datagram
	leadingZeroPair = 2
)

var (
	// ErrEmptyDatagram is returned for zero-length payloads
	ErrEmptyDatagram = errors.New("empty datagram")

	// ErrOddLength is returned when the payload is not a whole number of samples
	ErrOddLength = errors.New("datagram length is not a multiple of the sample size")
)

// Datagram is a decoded audio datagram
type Datagram struct {
	Samples        []float32 // Normalized samples, leading zero pair removed
	RawSamples     int       // Number of int16 samples in the payload
	SkippedLeading bool      // Whether the device's leading zero pair was dropped
}

// DecodeDatagram decodes a raw PCM16 payload into normalized float samples.
// If the payload holds at least two samples and the first two are exactly
// zero, those two are dropped; later zeros are kept.
func DecodeDatagram(data []byte) (*Datagram, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDatagram
	}

	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(data))
	}

	count := len(data) / BytesPerSample
	start := 0
	if count >= leadingZeroPair && SampleAt(data, 0) == 0 && SampleAt(data, 1) == 0 {
		start = leadingZeroPair
	}

	samples := make([]float32, count-start)
	for i := start; i < count; i++ {
		samples[i-start] = Normalize(SampleAt(data, i))
	}

	return &Datagram{
		Samples:        samples,
		RawSamples:     count,
		SkippedLeading: start > 0,
	}, nil
}

// SampleAt reads the i-th little-endian int16 sample from a PCM16 payload
func SampleAt(data []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
}

// Normalize converts a PCM16 sample to a float in [-1.0, 1.0)
func Normalize(v int16) float32 {
	return float32(v) / PCMScale
}

// EncodePCM16 packs samples as little-endian int16, the inverse of the device payload
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

// String returns a human-readable representation of the datagram
func (d *Datagram) String() string {
	return fmt.Sprintf("Datagram{RawSamples:%d, Samples:%d, SkippedLeading:%t}",
		d.RawSamples, len(d.Samples), d.SkippedLeading)
}
