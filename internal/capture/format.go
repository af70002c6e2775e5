package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"firestige.xyz/sqlnet/internal/core"
)

// Format describes one capture container format.
type Format struct {
	Name  string
	Match func(magic uint32) bool
	New   func() Reader
}

// formats is consulted in order by Detect.
var formats = []Format{
	{
		Name: "pcap",
		Match: func(magic uint32) bool {
			_, ok := pcapModeFor(magic)
			return ok
		},
		New: func() Reader { return NewPcapReader() },
	},
	{
		Name:  "pcapng",
		Match: func(magic uint32) bool { return magic == pcapngMagic },
		New:   func() Reader { return NewPcapngReader() },
	},
}

// Register adds a container format. Formats registered later are tried last.
func Register(f Format) {
	formats = append(formats, f)
}

// Detect selects the format whose magic number matches the first four bytes
// of a stream, read little-endian.
func Detect(head []byte) (Format, error) {
	if len(head) < 4 {
		return Format{}, fmt.Errorf("%w: stream shorter than magic number", core.ErrUnrecognizedFormat)
	}
	magic := binary.LittleEndian.Uint32(head[:4])
	for _, f := range formats {
		if f.Match(magic) {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: magic 0x%08x", core.ErrUnrecognizedFormat, magic)
}

// NewReader detects the container format of r and returns an initialised Reader.
func NewReader(r io.Reader) (Reader, Format, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head, err := br.Peek(4)
	if err != nil && len(head) < 4 {
		return nil, Format{}, fmt.Errorf("%w: %v", core.ErrUnrecognizedFormat, err)
	}
	f, err := Detect(head)
	if err != nil {
		return nil, Format{}, err
	}
	rd := f.New()
	if err := rd.Init(br); err != nil {
		return nil, f, err
	}
	return rd, f, nil
}

// Source is an opened capture file.
type Source struct {
	Reader
	Path   string
	Format string
	file   *os.File
}

// Open opens a capture file and initialises the matching Reader.
func Open(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	rd, f, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Source{Reader: rd, Path: path, Format: f.Name, file: file}, nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
