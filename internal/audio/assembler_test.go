package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/jackzampolin/narrator/internal/faults"
)

func writeSilence(t *testing.T, dir, name string, d time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, SilenceWAV(d), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readWAV(path string) (*goaudio.IntBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errNotWAV
	}
	return dec.FullPCMBuffer()
}

func writePCM(t *testing.T, dir, name string, samples []int, sampleRate int) string {
	t.Helper()
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		pcm[2*i] = byte(uint16(int16(s)))
		pcm[2*i+1] = byte(uint16(int16(s)) >> 8)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PCMToWAV(pcm, sampleRate, 1), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func constant(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAssembleDurations(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()

	chapters := []ChapterAudio{
		{Index: 0, Title: "One", Chunks: []string{
			writeSilence(t, work, "0_0.wav", 250*time.Millisecond),
			writeSilence(t, work, "0_1.wav", 500*time.Millisecond),
		}},
		{Index: 1, Title: "Two", Chunks: []string{
			writeSilence(t, work, "1_0.wav", 1200*time.Millisecond),
		}},
	}

	a := NewAssembler(AssemblerConfig{Enhancement: Enhancement{Normalize: true, Compress: true}})
	result, err := a.Assemble(context.Background(), out, chapters)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if len(result.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(result.Chapters))
	}
	for i, ch := range result.Chapters {
		var sum time.Duration
		for _, d := range result.ChunkDurations[i] {
			sum += d
		}
		if ch.Duration != sum {
			t.Errorf("chapter %d duration = %s, chunk sum = %s", i, ch.Duration, sum)
		}
		if ch.Size <= 0 {
			t.Errorf("chapter %d size = %d", i, ch.Size)
		}
	}
	if result.Chapters[0].Name != "chapter_001.wav" || result.Chapters[1].Name != "chapter_002.wav" {
		t.Errorf("unexpected names %q, %q", result.Chapters[0].Name, result.Chapters[1].Name)
	}
	if result.Complete.Duration != 1950*time.Millisecond {
		t.Errorf("complete duration = %s, want 1.95s", result.Complete.Duration)
	}
	if result.Complete.Name != "complete_audiobook.wav" || result.Complete.ChapterIndex != CompleteIndex {
		t.Errorf("unexpected complete file %+v", result.Complete)
	}

	offsets := result.Offsets()
	if offsets[0] != 0 || offsets[1] != 750*time.Millisecond {
		t.Errorf("offsets = %v", offsets)
	}
}

func TestAssembleMissingChunk(t *testing.T) {
	work := t.TempDir()
	chapters := []ChapterAudio{{Index: 0, Chunks: []string{
		writeSilence(t, work, "ok.wav", 100*time.Millisecond),
		filepath.Join(work, "gone.wav"),
	}}}

	_, err := NewAssembler(AssemblerConfig{}).Assemble(context.Background(), t.TempDir(), chapters)
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected AssemblyError, got %v", err)
	}
	if asmErr.Chapter != 0 || filepath.Base(asmErr.Path) != "gone.wav" {
		t.Errorf("unexpected error detail %+v", asmErr)
	}
	if faults.KindOf(err) != faults.KindAssembly {
		t.Errorf("KindOf() = %q", faults.KindOf(err))
	}
}

func TestAssembleCorruptChunk(t *testing.T) {
	work := t.TempDir()
	bad := filepath.Join(work, "bad.wav")
	if err := os.WriteFile(bad, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	chapters := []ChapterAudio{{Index: 2, Chunks: []string{bad}}}

	_, err := NewAssembler(AssemblerConfig{}).Assemble(context.Background(), out, chapters)
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) || asmErr.Chapter != 2 {
		t.Fatalf("expected AssemblyError for chapter 2, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(out, "complete_audiobook.wav")); !os.IsNotExist(statErr) {
		t.Error("no output should be written when a chunk is corrupt")
	}
}

func TestWAVConcatPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	// 1 frame of a loud sample followed by silence; ordering shows in the first sample.
	loud := filepath.Join(dir, "loud.wav")
	if err := os.WriteFile(loud, PCMToWAV([]byte{0xff, 0x3f}, DefaultSampleRate, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	quiet := writeSilence(t, dir, "quiet.wav", 10*time.Millisecond)

	out := filepath.Join(dir, "out.wav")
	if err := (WAVCodec{}).Concat(context.Background(), []string{quiet, loud}, out, Enhancement{}); err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	buf, err := readWAV(out)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Data[0] != 0 || buf.Data[len(buf.Data)-1] != 0x3fff {
		t.Errorf("samples out of order: first=%d last=%d", buf.Data[0], buf.Data[len(buf.Data)-1])
	}
}

func TestNormalizeAndCompress(t *testing.T) {
	pcm := []byte{0x00, 0x10, 0x00, 0xf0} // 4096, -4096
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(in, PCMToWAV(pcm, DefaultSampleRate, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.wav")
	if err := (WAVCodec{}).Concat(context.Background(), []string{in}, out, Enhancement{Normalize: true}); err != nil {
		t.Fatal(err)
	}
	buf, err := readWAV(out)
	if err != nil {
		t.Fatal(err)
	}
	peak := 0.89*32767 + 0.5
	want := int(peak)
	if buf.Data[0] != want || buf.Data[1] != -want {
		t.Errorf("normalized samples = %v, want ±%d", buf.Data, want)
	}
}

func TestNewCodec(t *testing.T) {
	if c, err := NewCodec(""); err != nil || c.Name() != "wav" {
		t.Fatalf("NewCodec(\"\") = %v, %v", c, err)
	}
	if c, err := NewCodec("mp3"); err != nil || c.Extension() != "mp3" {
		t.Fatalf("NewCodec(mp3) = %v, %v", c, err)
	}
	if c, err := NewCodec("flac"); err != nil || c.Name() != "ffmpeg" {
		t.Fatalf("NewCodec(flac) = %v, %v", c, err)
	}
	if _, err := NewCodec("midi"); err == nil {
		t.Fatal("unknown codec should fail")
	}
}

func TestAssembleSingleChapterWritesOneFile(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	chunk := writeSilence(t, work, "only.wav", 500*time.Millisecond)

	result, err := NewAssembler(AssemblerConfig{}).Assemble(context.Background(), out,
		[]ChapterAudio{{Index: 0, Title: "Complete Document", Chunks: []string{chunk}}})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	files := result.Files()
	if len(files) != 1 || files[0].Name != "complete_audiobook.wav" {
		t.Fatalf("files = %+v", files)
	}
	if files[0].Duration != 500*time.Millisecond || result.ChunkDurations[0][0] != 500*time.Millisecond {
		t.Errorf("duration = %s", files[0].Duration)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 1 {
		t.Errorf("expected one file on disk, got %d", len(entries))
	}
}

// Inputs larger than one decode block are joined sample for sample, and the
// normalization gain comes from the loudest input, not the first.
func TestWAVConcatStreamsAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	n := streamFrames*2 + 123
	quiet := writePCM(t, dir, "quiet.wav", constant(n, 1000), DefaultSampleRate)
	loud := writePCM(t, dir, "loud.wav", constant(n, 8000), DefaultSampleRate)

	out := filepath.Join(dir, "out.wav")
	if err := (WAVCodec{}).Concat(context.Background(), []string{quiet, loud}, out, Enhancement{Normalize: true}); err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	buf, err := readWAV(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Data) != 2*n {
		t.Fatalf("samples = %d, want %d", len(buf.Data), 2*n)
	}
	peakF := 0.89*32767 + 0.5
	peak := int(peakF)
	if got := buf.Data[len(buf.Data)-1]; got != peak {
		t.Errorf("loud sample = %d, want %d", got, peak)
	}
	quietF := 1000*0.89*32767/8000 + 0.5
	if got, want := buf.Data[0], int(quietF); got != want {
		t.Errorf("quiet sample = %d, want %d", got, want)
	}

	d, err := (WAVCodec{}).Duration(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Duration(2*n) * time.Second / DefaultSampleRate; d != want {
		t.Errorf("Duration() = %s, want %s", d, want)
	}
}

func TestWAVConcatRejectsMixedFormats(t *testing.T) {
	dir := t.TempDir()
	a := writePCM(t, dir, "a.wav", constant(10, 1), DefaultSampleRate)
	b := writePCM(t, dir, "b.wav", constant(10, 1), 24000)

	err := (WAVCodec{}).Concat(context.Background(), []string{a, b}, filepath.Join(dir, "out.wav"), Enhancement{})
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected format mismatch, got %v", err)
	}
}

func TestWAVConcatFades(t *testing.T) {
	dir := t.TempDir()
	// 100 frames at 1kHz is 100ms; fade 10ms at each end.
	in := writePCM(t, dir, "in.wav", constant(100, 10000), 1000)
	out := filepath.Join(dir, "out.wav")
	enh := Enhancement{FadeIn: 10 * time.Millisecond, FadeOut: 10 * time.Millisecond}
	if err := (WAVCodec{}).Concat(context.Background(), []string{in}, out, enh); err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	buf, err := readWAV(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Data) != 100 {
		t.Fatalf("samples = %d, want 100", len(buf.Data))
	}
	if buf.Data[0] != 0 || buf.Data[99] != 0 {
		t.Errorf("edges = %d, %d, want silence", buf.Data[0], buf.Data[99])
	}
	if buf.Data[5] != 5000 || buf.Data[94] != 5000 {
		t.Errorf("mid-fade samples = %d, %d, want 5000", buf.Data[5], buf.Data[94])
	}
	for i := 10; i < 90; i++ {
		if buf.Data[i] != 10000 {
			t.Fatalf("sample %d = %d, want untouched 10000", i, buf.Data[i])
		}
	}
	for i := 1; i < 10; i++ {
		if buf.Data[i] <= buf.Data[i-1] {
			t.Fatalf("fade in not rising at %d: %v", i, buf.Data[:10])
		}
	}
}

func TestFFmpegFilters(t *testing.T) {
	if got := ffmpegFilters(Enhancement{}, time.Minute); got != "" {
		t.Errorf("no enhancement = %q, want empty", got)
	}
	got := ffmpegFilters(Enhancement{Normalize: true, FadeIn: time.Second, FadeOut: 2 * time.Second}, 10*time.Second)
	want := "loudnorm=I=-16:TP=-1.5:LRA=11,afade=t=in:st=0:d=1.000,afade=t=out:st=8.000:d=2.000"
	if got != want {
		t.Errorf("ffmpegFilters() = %q, want %q", got, want)
	}
	if got := ffmpegFilters(Enhancement{FadeOut: time.Minute}, 0); got != "" {
		t.Errorf("fade out of unknown length = %q, want empty", got)
	}
}

func TestCheckAvailable(t *testing.T) {
	if err := (WAVCodec{}).CheckAvailable(); err != nil {
		t.Errorf("WAV codec needs no tools: %v", err)
	}
	missing := NewFFmpegCodec(FFmpegConfig{FFmpegPath: filepath.Join(t.TempDir(), "no-ffmpeg")})
	if err := missing.CheckAvailable(); err == nil {
		t.Error("missing ffmpeg should be reported")
	}
}
