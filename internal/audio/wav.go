package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WAV format codes
const (
	FormatPCM       = 1
	FormatIEEEFloat = 3

	// WAVHeaderSize is the size of the canonical RIFF/fmt/data header
	WAVHeaderSize = 44
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16  // 1 for PCM, 3 for IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewFloatWAVHeader builds the header for mono 32-bit float samples
func NewFloatWAVHeader(numSamples, sampleRate int) WAVHeader {
	numChannels := uint16(1)
	bitsPerSample := uint16(32)
	dataSize := uint32(numSamples * 4)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   FormatIEEEFloat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteFloatWAV streams a mono float32 WAV file to w
func WriteFloatWAV(w io.Writer, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := NewFloatWAVHeader(len(samples), sampleRate)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	return nil
}

// EncodeFloatWAV encodes float samples into a mono IEEE-float WAV file
func EncodeFloatWAV(samples []float32, sampleRate int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*4))
	if err := WriteFloatWAV(buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono WAV file into normalized float samples.
// Both 32-bit IEEE float and 16-bit PCM data are accepted.
func DecodeWAV(data []byte) ([]float32, int, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	payload := data[WAVHeaderSize:]
	if int(header.Subchunk2Size) < len(payload) {
		payload = payload[:header.Subchunk2Size]
	}

	var samples []float32
	switch {
	case header.AudioFormat == FormatIEEEFloat && header.BitsPerSample == 32:
		samples = make([]float32, len(payload)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
	case header.AudioFormat == FormatPCM && header.BitsPerSample == 16:
		samples = make([]float32, len(payload)/2)
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / 32768.0
		}
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %d with %d bits per sample",
			header.AudioFormat, header.BitsPerSample)
	}

	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	return samples, int(header.SampleRate), nil
}

// readHeader reads and validates the canonical 44-byte header
func readHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	return &header, nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.BitsPerSample < 8 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV file: unusable bits per sample or channel count")
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8) / uint32(header.NumChannels)

	return &WAVInfo{
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
