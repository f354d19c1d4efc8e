package l1frames

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileExtension is the extension for lane grid dump files.
const FileExtension = ".lgd"

// Format limits. A PINet frame is 3 stacks of 1+2+4 channels over 32x64
// cells, far below these.
const (
	fileVersion       uint16 = 1
	maxGridsPerFrame         = 64
	maxNameLen               = 1024
	maxElementsInGrid        = 1 << 26
)

var fileMagic = [4]byte{'L', 'G', 'D', 'F'}

// ErrBadFormat is returned for dump files that cannot be parsed.
var ErrBadFormat = errors.New("bad lane grid dump")

// WriteFrame serialises f as:
//
//	magic "LGDF" | version u16 | name | grid count u16 |
//	per grid: name | C u32 | H u32 | W u32 | C*H*W float32
//
// All integers and floats are little-endian; names are u16
// length-prefixed.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Grids) > maxGridsPerFrame {
		return fmt.Errorf("frame %q has %d grids, max %d", f.Name, len(f.Grids), maxGridsPerFrame)
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, fileVersion); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := writeName(bw, f.Name); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(f.Grids))); err != nil {
		return fmt.Errorf("failed to write grid count: %w", err)
	}
	for _, g := range f.Grids {
		if err := g.Validate(); err != nil {
			return err
		}
		if err := writeName(bw, g.Name); err != nil {
			return err
		}
		dims := [3]uint32{uint32(g.Shape.C), uint32(g.Shape.H), uint32(g.Shape.W)}
		if err := binary.Write(bw, binary.LittleEndian, dims); err != nil {
			return fmt.Errorf("failed to write shape of %q: %w", g.Name, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, g.Data); err != nil {
			return fmt.Errorf("failed to write data of %q: %w", g.Name, err)
		}
	}
	return bw.Flush()
}

// ReadFrame parses a frame written by WriteFrame.
func ReadFrame(r io.Reader) (*Frame, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrBadFormat, err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: unexpected magic %q", ErrBadFormat, magic[:])
	}
	var version uint16
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrBadFormat, err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, version)
	}

	name, err := readName(br)
	if err != nil {
		return nil, err
	}
	var count uint16
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read grid count: %v", ErrBadFormat, err)
	}
	if int(count) > maxGridsPerFrame {
		return nil, fmt.Errorf("%w: %d grids exceeds max %d", ErrBadFormat, count, maxGridsPerFrame)
	}

	f := &Frame{Name: name, Grids: make([]*OutputGrid, 0, count)}
	for k := 0; k < int(count); k++ {
		gname, err := readName(br)
		if err != nil {
			return nil, err
		}
		var dims [3]uint32
		if err := binary.Read(br, binary.LittleEndian, &dims); err != nil {
			return nil, fmt.Errorf("%w: read shape of %q: %v", ErrBadFormat, gname, err)
		}
		n := uint64(dims[0]) * uint64(dims[1]) * uint64(dims[2])
		if n == 0 || n > maxElementsInGrid {
			return nil, fmt.Errorf("%w: grid %q has %d elements", ErrBadFormat, gname, n)
		}
		data := make([]float32, n)
		if err := binary.Read(br, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("%w: read data of %q: %v", ErrBadFormat, gname, err)
		}
		f.Grids = append(f.Grids, &OutputGrid{
			Name:  gname,
			Shape: Shape{C: int(dims[0]), H: int(dims[1]), W: int(dims[2])},
			Data:  data,
		})
	}
	return f, nil
}

// ReadFrameFile reads a dump from disk. A frame without a name takes the
// file's base name.
func ReadFrameFile(path string) (*Frame, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open frame file: %w", err)
	}
	defer file.Close()

	f, err := ReadFrame(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = filepath.Base(path)
	}
	return f, nil
}

// WriteFrameFile writes f to path, replacing any existing file.
func WriteFrameFile(path string, f *Frame) error {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := WriteFrame(file, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeName(w io.Writer, name string) error {
	if len(name) > maxNameLen {
		return fmt.Errorf("name %q longer than %d bytes", name[:32], maxNameLen)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
		return fmt.Errorf("failed to write name length: %w", err)
	}
	if _, err := io.WriteString(w, name); err != nil {
		return fmt.Errorf("failed to write name: %w", err)
	}
	return nil
}

func readName(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("%w: read name length: %v", ErrBadFormat, err)
	}
	if int(n) > maxNameLen {
		return "", fmt.Errorf("%w: name length %d exceeds %d", ErrBadFormat, n, maxNameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: read name: %v", ErrBadFormat, err)
	}
	return string(buf), nil
}
