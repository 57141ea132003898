package spool

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	segmentPrefix      = "segment-"
	segmentSuffix      = ".log"
	defaultMaxBytes    = 2 << 30 // 2 GiB default if unspecified
	defaultSegmentSize = 64 << 20
)

// ErrFull is returned when an append would exceed the configured byte cap.
// Records are never evicted: a streamed timeline must stay complete.
var ErrFull = errors.New("spool capacity exceeded")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("spool closed")

// Store is an append-only log of opaque records split across segment files.
// Each record is framed by a 4 byte big-endian length.
type Store struct {
	mu          sync.Mutex
	dir         string
	maxBytes    int64
	segmentSize int64
	sync        bool

	segments []*segment
	writeSeg *segment
	writer   *bufio.Writer

	totalSize int64
	closed    bool
}

type segment struct {
	seq  int64
	path string
	file *os.File
	size int64
}

type Option func(*Store)

// WithMaxBytes caps the total size of all segments.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithSegmentSize sets the size at which the write segment rotates.
func WithSegmentSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.segmentSize = n
		}
	}
}

// WithSync fsyncs the write segment after every append.
func WithSync(enabled bool) Option {
	return func(s *Store) {
		s.sync = enabled
	}
}

// Open creates dir if needed and resumes appending after any existing segments.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure spool dir %q: %w", dir, err)
	}

	s := &Store{
		dir:         dir,
		maxBytes:    defaultMaxBytes,
		segmentSize: defaultSegmentSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.segmentSize > s.maxBytes {
		s.segmentSize = s.maxBytes
	}

	if err := s.loadSegments(); err != nil {
		return nil, err
	}
	if err := s.ensureWriteSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes one record to the tail of the log.
func (s *Store) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	recordLen := int64(4 + len(data))
	if s.totalSize+recordLen > s.maxBytes {
		return fmt.Errorf("append %d bytes to %q: %w", recordLen, s.dir, ErrFull)
	}
	if err := s.rotateIfNeeded(recordLen); err != nil {
		return err
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := s.writer.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write segment %q: %w", s.writeSeg.path, err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write segment %q: %w", s.writeSeg.path, err)
	}
	if s.sync {
		if err := s.flushLocked(); err != nil {
			return err
		}
		if err := s.writeSeg.file.Sync(); err != nil {
			return fmt.Errorf("sync segment %q: %w", s.writeSeg.path, err)
		}
	}
	s.writeSeg.size += recordLen
	s.totalSize += recordLen
	return nil
}

// ReadAll returns every record in append order.
func (s *Store) ReadAll() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}

	var records [][]byte
	for _, seg := range s.segments {
		segRecords, err := readSegment(seg.path)
		if err != nil {
			return nil, err
		}
		records = append(records, segRecords...)
	}
	return records, nil
}

// SizeBytes reports the framed size of every record written so far.
func (s *Store) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Close flushes buffered records and releases the write segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writeSeg == nil || s.writeSeg.file == nil {
		return nil
	}
	flushErr := s.flushLocked()
	closeErr := s.writeSeg.file.Close()
	s.writeSeg.file = nil
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("close segment %q: %w", s.writeSeg.path, closeErr)
	}
	return nil
}

func (s *Store) flushLocked() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush segment %q: %w", s.writeSeg.path, err)
	}
	return nil
}

func readSegment(path string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment for read %q: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var records [][]byte
	var lengthBuf [4]byte
	for {
		if _, err := io.ReadFull(reader, lengthBuf[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("read length in %q: %w", path, err)
		}
		payload := make([]byte, binary.BigEndian.Uint32(lengthBuf[:]))
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("read payload in %q: %w", path, err)
		}
		records = append(records, payload)
	}
}

func (s *Store) rotateIfNeeded(nextRecord int64) error {
	if s.writeSeg.size == 0 || s.writeSeg.size+nextRecord <= s.segmentSize {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.writeSeg.file.Close(); err != nil {
		return fmt.Errorf("close segment %q: %w", s.writeSeg.path, err)
	}
	s.writeSeg.file = nil
	return s.createSegment(s.writeSeg.seq + 1)
}

func (s *Store) createSegment(seq int64) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, seq, segmentSuffix))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create segment %q: %w", path, err)
	}
	seg := &segment{seq: seq, path: path, file: file}
	s.segments = append(s.segments, seg)
	sortSegments(s.segments)
	s.writeSeg = seg
	s.writer = bufio.NewWriter(file)
	return nil
}

func (s *Store) ensureWriteSegment() error {
	if len(s.segments) == 0 {
		return s.createSegment(1)
	}
	last := s.segments[len(s.segments)-1]
	file, err := os.OpenFile(last.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open segment %q: %w", last.path, err)
	}
	last.file = file
	s.writeSeg = last
	s.writer = bufio.NewWriter(file)
	return nil
}

func (s *Store) loadSegments() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}

	var segments []*segment
	var total int64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		seqStr := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
		seq, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		segments = append(segments, &segment{seq: seq, path: path, size: info.Size()})
		total += info.Size()
	}

	sortSegments(segments)
	s.segments = segments
	s.totalSize = total
	return nil
}

func sortSegments(segs []*segment) {
	sort.Slice(segs, func(i, j int) bool {
		return segs[i].seq < segs[j].seq
	})
}
