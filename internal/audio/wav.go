package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"callpipe/internal/services"
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	pcmFormat       = 1
)

// Clip holds decoded PCM audio.
type Clip struct {
	SampleRate int
	Channels   int
	// Samples are interleaved when Channels > 1, normalized to [-1, 1].
	Samples []float64
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Peak returns the largest absolute sample value.
func (c *Clip) Peak() float64 {
	peak := 0.0
	for _, s := range c.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// ClippingRatio returns the fraction of samples at or above the given
// absolute amplitude.
func (c *Clip) ClippingRatio(threshold float64) float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	clipped := 0
	for _, s := range c.Samples {
		if math.Abs(s) >= threshold {
			clipped++
		}
	}
	return float64(clipped) / float64(len(c.Samples))
}

// Mono returns a single-channel view of the clip, averaging channels when
// the source is multi-channel.
func (c *Clip) Mono() []float64 {
	if c.Channels <= 1 {
		return c.Samples
	}
	frames := len(c.Samples) / c.Channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		mono[i] = sum / float64(c.Channels)
	}
	return mono
}

// DecodeFile reads and decodes a WAV file from disk.
func DecodeFile(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDecode, "audio", "read wav", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses a RIFF/WAVE stream carrying 16-bit PCM audio. Unknown chunks
// are skipped; anything other than PCM16 is rejected.
func Decode(r io.Reader) (*Clip, error) {
	header := make([]byte, riffHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, services.Wrap(services.ErrDecode, "audio", "read riff header", "", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, services.Wrap(services.ErrDecode, "audio", "read riff header", "not a WAVE file", nil)
	}

	var (
		clip      Clip
		sawFormat bool
		bitDepth  int
	)

	chunk := make([]byte, chunkHeaderSize)
	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, services.Wrap(services.ErrDecode, "audio", "read chunk header", "", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, services.Wrap(services.ErrDecode, "audio", "read fmt chunk", "", err)
			}
			if size < 16 {
				return nil, services.Wrap(services.ErrDecode, "audio", "read fmt chunk", "truncated", nil)
			}
			format := int(binary.LittleEndian.Uint16(body[0:2]))
			if format != pcmFormat {
				return nil, services.Wrap(services.ErrDecode, "audio", "read fmt chunk",
					fmt.Sprintf("unsupported format %d, want PCM", format), nil)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			if bitDepth != 16 {
				return nil, services.Wrap(services.ErrDecode, "audio", "read fmt chunk",
					fmt.Sprintf("unsupported bit depth %d, want 16", bitDepth), nil)
			}
			if clip.Channels <= 0 || clip.SampleRate <= 0 {
				return nil, services.Wrap(services.ErrDecode, "audio", "read fmt chunk", "invalid channel or rate", nil)
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, services.Wrap(services.ErrDecode, "audio", "read data chunk", "data before fmt", nil)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, services.Wrap(services.ErrDecode, "audio", "read data chunk", "", err)
			}
			count := len(body) / 2
			clip.Samples = make([]float64, count)
			for i := 0; i < count; i++ {
				v := int16(binary.LittleEndian.Uint16(body[i*2 : i*2+2]))
				clip.Samples[i] = float64(v) / 32768.0
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, services.Wrap(services.ErrDecode, "audio", "skip chunk", id, err)
			}
		}
		// Chunks are word-aligned; odd sizes carry a pad byte.
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil && err != io.EOF {
				return nil, services.Wrap(services.ErrDecode, "audio", "skip pad byte", id, err)
			}
		}
	}

	if !sawFormat {
		return nil, services.Wrap(services.ErrDecode, "audio", "decode", "missing fmt chunk", nil)
	}
	if clip.Samples == nil {
		return nil, services.Wrap(services.ErrDecode, "audio", "decode", "missing data chunk", nil)
	}
	return &clip, nil
}

// Encode writes the clip as a 16-bit PCM WAV stream.
func Encode(w io.Writer, clip *Clip) error {
	if clip == nil || clip.SampleRate <= 0 || clip.Channels <= 0 {
		return fmt.Errorf("encode wav: invalid clip")
	}
	dataSize := len(clip.Samples) * 2
	buf := make([]byte, 0, riffHeaderSize+chunkHeaderSize*2+16+dataSize)

	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, pcmFormat)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(clip.Channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(clip.SampleRate))
	byteRate := clip.SampleRate * clip.Channels * 2
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(clip.Channels*2))
	buf = binary.LittleEndian.AppendUint16(buf, 16)

	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))
	for _, s := range clip.Samples {
		v := int16(math.Round(clamp(s, -1, 1) * 32767))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// EncodeFile writes the clip to disk as a WAV file.
func EncodeFile(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	defer f.Close()
	if err := Encode(f, clip); err != nil {
		return err
	}
	return f.Close()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
