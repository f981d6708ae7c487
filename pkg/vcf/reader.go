package vcf

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Reader streams records from a single VCF file. It tracks the byte
// offset of the underlying (uncompressed) stream so that companion
// indexes and range reads can address record boundaries.
type Reader struct {
	path   string
	f      *os.File
	gz     *gzip.Reader // nil for plain text input
	br     *bufio.Reader
	header *Header

	headerEnd int64 // offset of the first data byte
	offset    int64 // offset of the next unread byte
	limit     int64 // exclusive end of range reads; 0 means none
}

// Open opens a VCF file and parses its header. Gzip (and bgzip, which is
// gzip-compatible) input is detected by magic bytes and decompressed
// transparently.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to open source")
	}

	r := &Reader{path: path, f: f}

	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, "source too short")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to rewind source")
	}

	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, "failed to open gzip stream")
		}
		gz.Multistream(true) // bgzip files are concatenated members
		r.gz = gz
		r.br = bufio.NewReaderSize(gz, 256*1024)
	} else {
		r.br = bufio.NewReaderSize(f, 256*1024)
	}

	if err := r.parseHeader(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// OpenRange opens a plain-text VCF for reading records in the byte range
// [start, end). start must be a record boundary (a companion index
// checkpoint) at or after the header; end may be 0 for
// read-to-end. Compressed inputs do not support range reads.
func OpenRange(path string, start, end int64) (*Reader, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	if !r.Seekable() {
		r.Close()
		return nil, vczerrors.New(vczerrors.ErrorTypePlanning,
			"range reads require uncompressed input")
	}
	if start < r.headerEnd {
		r.Close()
		return nil, vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"range start %d is inside the header (data starts at %d)", start, r.headerEnd)
	}
	if _, err := r.f.Seek(start, io.SeekStart); err != nil {
		r.Close()
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to seek to range start")
	}
	r.br.Reset(r.f)
	r.offset = start
	r.limit = end
	return r, nil
}

// Header returns the parsed header.
func (r *Reader) Header() *Header { return r.header }

// Seekable reports whether the input supports random access.
func (r *Reader) Seekable() bool { return r.gz == nil }

// HeaderEnd returns the offset of the first data byte.
func (r *Reader) HeaderEnd() int64 { return r.headerEnd }

// Offset returns the offset of the next unread byte. For compressed
// inputs this is an uncompressed-stream offset.
func (r *Reader) Offset() int64 { return r.offset }

// Path returns the source path.
func (r *Reader) Path() string { return r.path }

// Next returns the next record, or io.EOF at the end of the file or
// range.
func (r *Reader) Next() (*Record, error) {
	for {
		if r.limit > 0 && r.offset >= r.limit {
			return nil, io.EOF
		}
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			continue
		}
		rec, err := parseRecord(line, len(r.header.Samples))
		if err != nil {
			return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, r.path)
		}
		return rec, nil
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.f.Close()
}

// readLine reads one line, advancing the stream offset by the raw byte
// count including the newline.
func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "read failed")
	}
	if line == "" && err == io.EOF {
		return "", io.EOF
	}
	r.offset += int64(len(line))
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

func (r *Reader) parseHeader() error {
	h := newHeader()
	for {
		line, err := r.readLine()
		if err == io.EOF {
			return vczerrors.New(vczerrors.ErrorTypeData, "missing column header line")
		}
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(line, "##"):
			if err := h.parseHeaderLine(line); err != nil {
				return err
			}
		case strings.HasPrefix(line, "#"):
			if err := h.parseColumnLine(line); err != nil {
				return err
			}
			r.header = h
			r.headerEnd = r.offset
			return nil
		default:
			return vczerrors.Newf(vczerrors.ErrorTypeData,
				"unexpected data before column header: %q", line)
		}
	}
}
