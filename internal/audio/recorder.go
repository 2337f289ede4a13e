// Package audio records the microphone stream of a live call.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16
	wavHeaderSize     = 44
)

// Recorder writes the PCM16-LE stream of one call to a WAV file while it is
// forwarded to transcription.
type Recorder struct {
	dir        string
	sampleRate int

	mu      sync.Mutex
	file    *os.File
	path    string
	written int
}

func NewRecorder(dir string, sampleRate int) *Recorder {
	if dir == "" {
		dir = filepath.Join("data", "audio")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Recorder{dir: dir, sampleRate: sampleRate}
}

// Start opens <dir>/<callID>.wav. The header is finalized by Finish.
func (r *Recorder) Start(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return errors.New("recording already in progress")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	path := filepath.Join(r.dir, callID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		_ = f.Close()
		return fmt.Errorf("reserve wav header: %w", err)
	}

	r.file = f
	r.path = path
	r.written = 0
	return nil
}

// Writer returns a writer that forwards to dst and records what dst
// accepted.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

// Finish writes the WAV header and closes the file. It returns the
// absolute path, or "" when nothing was recorded.
func (r *Recorder) Finish() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return "", nil
	}
	f, path, size := r.file, r.path, r.written
	r.file, r.path, r.written = nil, "", 0

	header, err := wavHeader(size, r.sampleRate, pcmChannels, pcmBitDepth)
	if err == nil {
		_, err = f.WriteAt(header, 0)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	if size == 0 {
		_ = os.Remove(path)
		return "", nil
	}
	return filepath.Abs(path)
}

func (r *Recorder) writePCM(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	n, err := r.file.Write(data)
	r.written += n
	if err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	return nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	buf.WriteString("RIFF")
	if err := binary.Write(buf, binary.LittleEndian, uint32(36+dataSize)); err != nil {
		return nil, err
	}
	buf.WriteString("WAVEfmt ")
	for _, v := range []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteString("data")
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type teeWriter struct {
	recorder *Recorder
	dst      io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.recorder.writePCM(p[:n]); err != nil {
		return n, err
	}
	return n, nil
}
