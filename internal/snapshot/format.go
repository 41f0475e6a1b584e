// Package snapshot persists replicate reports as self-verifying files: a
// plain JSON header line followed by a gzip-compressed JSON payload.
package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/population"
)

// Format version constants.
const (
	FormatV1 = 1
	FormatV2 = 2
)

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (64MB).
const MaxDecompressedSize = 64 * 1024 * 1024

var (
	// ErrChecksumMismatch is returned when the payload does not match the
	// header checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnknownFormat is returned for input that is neither V1 nor V2.
	ErrUnknownFormat = errors.New("unrecognized snapshot format")
)

// Header is the plain-text first line of a V2 snapshot. It can be read
// without decompressing the payload.
type Header struct {
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	Checksum       string    `json:"checksum"`
	RunID          string    `json:"run_id"`
	Replicate      int       `json:"replicate"`
	FinalSize      int       `json:"final_size"`
	MonosomeEvents int       `json:"monosome_events"`
	RevertEvents   int       `json:"revert_events"`
	Compressed     bool      `json:"compressed"`
}

// Snapshot is one replicate report with provenance. A V1 snapshot is this
// struct as plain JSON.
type Snapshot struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	RunID     string            `json:"run_id"`
	Report    population.Report `json:"report"`
}

// New wraps a report in a snapshot stamped with the current time.
func New(r population.Report) *Snapshot {
	return &Snapshot{
		Version:   FormatV2,
		CreatedAt: time.Now().UTC(),
		RunID:     r.RunID,
		Report:    r,
	}
}

// Key returns the blob key of a replicate snapshot.
func Key(runID string, replicate int) string {
	return fmt.Sprintf("%s/replicate-%04d%s", runID, replicate, constants.SnapshotExt)
}

// Encode writes s as V2: header line + newline + gzip-compressed payload.
func Encode(w io.Writer, s *Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:        FormatV2,
		CreatedAt:      s.CreatedAt,
		Checksum:       checksum(compressed.Bytes()),
		RunID:          s.RunID,
		Replicate:      s.Report.Replicate,
		FinalSize:      s.Report.FinalSize,
		MonosomeEvents: s.Report.MonosomeEventCount,
		RevertEvents:   s.Report.RevertEventCount,
		Compressed:     true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if _, err := w.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("writing compressed payload: %w", err)
	}
	return nil
}

// Decode reads a V1 or V2 snapshot. V2 payloads are checksum-verified
// before decompression.
func Decode(r io.Reader) (*Snapshot, error) {
	reader := bufio.NewReader(r)
	firstLine, err := reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading first line: %w", err)
	}

	version, header := sniff(firstLine)
	switch version {
	case FormatV2:
		compressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading compressed payload: %w", err)
		}
		if err := verify(header, compressed); err != nil {
			return nil, err
		}
		return decompress(compressed)

	case FormatV1:
		rest, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedSize))
		if err != nil {
			return nil, fmt.Errorf("reading snapshot: %w", err)
		}
		var s Snapshot
		if err := json.Unmarshal(append(firstLine, rest...), &s); err != nil {
			return nil, fmt.Errorf("parsing snapshot: %w", err)
		}
		return &s, nil

	default:
		return nil, ErrUnknownFormat
	}
}

// DecodeHeader reads only the header line of a V2 snapshot.
func DecodeHeader(r io.Reader) (*Header, error) {
	headerLine, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	version, header := sniff(headerLine)
	if version != FormatV2 {
		return nil, fmt.Errorf("expected V2 format, got version %d", version)
	}
	return header, nil
}

// VerifyReader checks the integrity of a V2 snapshot without decompressing.
func VerifyReader(r io.Reader) error {
	reader := bufio.NewReader(r)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("reading header line: %w", err)
	}
	version, header := sniff(headerLine)
	if version != FormatV2 {
		return fmt.Errorf("checksum verification only supported for V2 format (got version %d)", version)
	}
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading compressed payload: %w", err)
	}
	return verify(header, compressed)
}

// WriteFile encodes s to path, creating parent directories.
func WriteFile(path string, s *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := Encode(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile decodes the snapshot at path.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader reads the header of the V2 snapshot at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return DecodeHeader(f)
}

// Verify checks the checksum of the V2 snapshot at path.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return VerifyReader(f)
}

// DetectFormat reads the first line of a file to determine V1 vs V2.
// V2 files have a header line with "version":2. V1 files are plain JSON starting with '{'.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	firstLine, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("reading first line: %w", err)
	}
	if len(bytes.TrimSpace(firstLine)) == 0 {
		return 0, fmt.Errorf("file is empty")
	}
	version, _ := sniff(firstLine)
	if version == 0 {
		return 0, ErrUnknownFormat
	}
	return version, nil
}

// sniff classifies the first line of a snapshot.
func sniff(firstLine []byte) (int, *Header) {
	line := bytes.TrimSpace(firstLine)
	if len(line) == 0 {
		return 0, nil
	}
	var header Header
	if err := json.Unmarshal(line, &header); err == nil && header.Version == FormatV2 && header.Compressed {
		return FormatV2, &header
	}
	if line[0] == '{' {
		return FormatV1, nil
	}
	return 0, nil
}

func verify(header *Header, compressed []byte) error {
	if actual := checksum(compressed); actual != header.Checksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, header.Checksum, actual)
	}
	return nil
}

func decompress(compressed []byte) (*Snapshot, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var s Snapshot
	if err := json.Unmarshal(decompressed, &s); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &s, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
