package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate is used for generated audio.
const DefaultSampleRate = 16000

const pcmFormat = 1 // WAVE_FORMAT_PCM

// streamFrames is how many frames are decoded per read.
const streamFrames = 8192

// WAVCodec concatenates and measures PCM WAV files in process. Durations are
// exact frame counts, so concatenation preserves total length to the sample.
type WAVCodec struct{}

// Name returns the codec identifier.
func (WAVCodec) Name() string { return "wav" }

// Extension returns the output file extension.
func (WAVCodec) Extension() string { return "wav" }

// ProviderFormat returns the audio format to request from the provider.
func (WAVCodec) ProviderFormat() string { return "wav" }

// CheckAvailable always succeeds; WAV needs no external tools.
func (WAVCodec) CheckAvailable() error { return nil }

// Duration returns the exact playing time of a WAV file.
func (WAVCodec) Duration(ctx context.Context, path string) (time.Duration, error) {
	var samples int64
	f, err := streamWAV(ctx, path, wavFormat{}, func(buf *goaudio.IntBuffer) error {
		samples += int64(len(buf.Data))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return f.duration(samples), nil
}

// Concat joins inputs in order into output and applies enhancement. Inputs
// are streamed; normalization and fade-out read them twice, first to find
// the peak and length. Every input must share sample rate, channel count
// and bit depth.
func (WAVCodec) Concat(ctx context.Context, inputs []string, output string, enh Enhancement) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	format, err := readFormat(inputs[0])
	if err != nil {
		return err
	}

	fx := effects{enh: enh}
	if enh.Normalize || enh.FadeOut > 0 {
		for _, path := range inputs {
			scan := func(buf *goaudio.IntBuffer) error {
				fx.scan(format, buf)
				return nil
			}
			if _, err := streamWAV(ctx, path, format, scan); err != nil {
				return err
			}
		}
	}
	fx.prepare(format)

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, pcmFormat)
	// An empty write emits the headers even when every input is silent.
	if err := enc.Write(format.buffer(nil)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", output, err)
	}
	for _, path := range inputs {
		write := func(buf *goaudio.IntBuffer) error {
			fx.apply(format, buf)
			return enc.Write(buf)
		}
		if _, err := streamWAV(ctx, path, format, write); err != nil {
			f.Close()
			return err
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", output, err)
	}
	return f.Close()
}

// wavFormat is the PCM layout shared by every input of one Concat.
type wavFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f wavFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

func (f wavFormat) buffer(data []int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		Data:           data,
		SourceBitDepth: f.BitDepth,
	}
}

func (f wavFormat) duration(samples int64) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := samples / int64(f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// samples converts d to a whole number of frames, counted in samples.
func (f wavFormat) samples(d time.Duration) int64 {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return frames * int64(f.Channels)
}

var errNotWAV = errors.New("not a PCM WAV file")

func openWAV(path string) (*os.File, *wav.Decoder, wavFormat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, wavFormat{}, err
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, nil, wavFormat{}, fmt.Errorf("%s: %w", path, errNotWAV)
	}
	f := wavFormat{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	if f.SampleRate == 0 || f.Channels == 0 || f.BitDepth == 0 {
		file.Close()
		return nil, nil, wavFormat{}, fmt.Errorf("%s: %w", path, errNotWAV)
	}
	return file, dec, f, nil
}

func readFormat(path string) (wavFormat, error) {
	file, _, f, err := openWAV(path)
	if err != nil {
		return f, err
	}
	return f, file.Close()
}

// streamWAV decodes path in blocks of streamFrames, calling fn with each.
// The buffer is reused between calls. A non-zero want must match the file.
func streamWAV(ctx context.Context, path string, want wavFormat, fn func(*goaudio.IntBuffer) error) (wavFormat, error) {
	file, dec, format, err := openWAV(path)
	if err != nil {
		return format, err
	}
	defer file.Close()
	if want != (wavFormat{}) && format != want {
		return format, fmt.Errorf("%s: format %s does not match %s", path, format, want)
	}

	data := make([]int, streamFrames*format.Channels)
	for {
		if err := ctx.Err(); err != nil {
			return format, err
		}
		buf := format.buffer(data)
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return format, fmt.Errorf("%s: decode pcm: %w", path, err)
		}
		if n == 0 {
			return format, nil
		}
		buf.Data = data[:n]
		buf.SourceBitDepth = format.BitDepth
		if err := fn(buf); err != nil {
			return format, err
		}
	}
}

func encodeWAV(w io.WriteSeeker, buf *goaudio.IntBuffer) error {
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	enc := wav.NewEncoder(w, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, pcmFormat)
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func maxSample(bitDepth int) float64 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	return math.Pow(2, float64(bitDepth-1)) - 1
}

// effects applies enhancement sample by sample. Compression runs first,
// then normalization gain, then fades.
type effects struct {
	enh Enhancement

	// Filled by scan.
	peak  float64
	total int64

	gain      float64
	threshold float64
	fadeIn    int64
	fadeOut   int64
	pos       int64
}

// scan records the post-compression peak and total sample count.
func (e *effects) scan(f wavFormat, buf *goaudio.IntBuffer) {
	threshold := e.enh.threshold() * maxSample(f.BitDepth)
	for _, s := range buf.Data {
		v := math.Abs(float64(s))
		if e.enh.Compress {
			v = compressSample(v, threshold, e.enh.ratio())
		}
		e.peak = max(e.peak, v)
	}
	e.total += int64(len(buf.Data))
}

func (e *effects) prepare(f wavFormat) {
	full := maxSample(f.BitDepth)
	e.threshold = e.enh.threshold() * full
	e.gain = 1
	if e.enh.Normalize && e.peak > 0 {
		e.gain = e.enh.targetPeak() * full / e.peak
	}
	e.fadeIn = f.samples(e.enh.FadeIn)
	e.fadeOut = min(f.samples(e.enh.FadeOut), e.total)
}

func (e *effects) apply(f wavFormat, buf *goaudio.IntBuffer) {
	if !e.enh.Enabled() {
		e.pos += int64(len(buf.Data))
		return
	}
	ch := int64(f.Channels)
	for i, s := range buf.Data {
		v := float64(s)
		if e.enh.Compress {
			v = math.Copysign(compressSample(math.Abs(v), e.threshold, e.enh.ratio()), v)
		}
		v *= e.gain
		frame := e.pos / ch
		if e.fadeIn > 0 && e.pos < e.fadeIn {
			v *= float64(frame) / float64(e.fadeIn/ch)
		}
		if left := e.total - e.pos; e.fadeOut > 0 && left <= e.fadeOut {
			v *= float64((left-1)/ch) / float64(e.fadeOut/ch)
		}
		buf.Data[i] = int(math.Round(v))
		e.pos++
	}
}

// compressSample applies a static compressor to a magnitude.
func compressSample(mag, threshold, ratio float64) float64 {
	if mag <= threshold {
		return mag
	}
	return threshold + (mag-threshold)/ratio
}

// SilenceWAV returns a mono 16-bit WAV of d at DefaultSampleRate.
func SilenceWAV(d time.Duration) []byte {
	frames := int(d * DefaultSampleRate / time.Second)
	return PCMToWAV(make([]byte, frames*2), DefaultSampleRate, 1)
}

// PCMToWAV wraps raw little-endian 16-bit PCM in a WAV container.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	w := &memWriteSeeker{}
	if err := encodeWAV(w, buf); err != nil {
		return nil
	}
	return w.buf
}

// memWriteSeeker is an in-memory io.WriteSeeker for the WAV encoder, which
// seeks back to patch chunk sizes.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	m.pos = int(next)
	return next, nil
}
