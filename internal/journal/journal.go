// Package journal is an append-only log of completed trades. Each record is
// framed as len(4) + crc32(4) + JSON payload, so a crash mid-write leaves at
// most one torn record at the tail, which Replay can detect and Repair cut.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"

	"boarcore.com/internal/market"
)

const (
	headerSize      = 8
	defaultFilePerm = 0o644
	// DefaultMaxPayload bounds a single record so a corrupt length can't exhaust memory.
	DefaultMaxPayload = 4 << 20
)

var (
	ErrClosed           = errors.New("journal: closed")
	ErrCorruptHeader    = errors.New("journal: corrupt header")
	ErrCorruptPayload   = errors.New("journal: corrupt payload")
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("journal: payload too large")
)

// Record is one executed match.
type Record struct {
	Seq       uint64        `json:"seq"`
	At        time.Time     `json:"at"`
	Item      string        `json:"item"`
	Edition   int64         `json:"edition,omitempty"`
	Taker     string        `json:"taker"`
	TakerSide string        `json:"takerSide"`
	Quantity  int64         `json:"quantity"`
	TotalCost int64         `json:"totalCost"`
	Fills     []market.Fill `json:"fills"`
}

// FromMatch builds the record of res taken by user.
func FromMatch(user string, res *market.MatchResult, at time.Time) Record {
	return Record{
		At:        at,
		Item:      res.Item,
		Edition:   res.Edition,
		Taker:     user,
		TakerSide: res.Taker.String(),
		Quantity:  res.Quantity,
		TotalCost: res.TotalCost,
		Fills:     res.Fills,
	}
}

type Journal struct {
	mu  sync.Mutex
	f   *os.File
	bw  *bufio.Writer
	off int64
	seq uint64
}

// Open opens path for appending, creating it when missing. The sequence
// continues from the last intact record.
func Open(path string, bufSize int) (*Journal, error) {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	var last uint64
	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func(r Record) error {
		last = r.Seq
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", path, err)
	}
	if st.TruncatedTail {
		if err := TruncateTo(path, st.LastGoodOffset); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Journal{f: f, bw: bufio.NewWriterSize(f, bufSize), off: info.Size(), seq: last}, nil
}

// Append assigns the next sequence number to r and buffers it. It returns the
// sequence used. Call Flush to make it durable.
func (j *Journal) Append(r Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return 0, ErrClosed
	}
	r.Seq = j.seq + 1
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))
	if _, err := j.bw.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := j.bw.Write(payload); err != nil {
		return 0, err
	}
	j.seq = r.Seq
	j.off += int64(headerSize + len(payload))
	return r.Seq, nil
}

func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return ErrClosed
	}
	if err := j.bw.Flush(); err != nil {
		return err
	}
	return j.f.Sync()
}

// Offset is the logical end of the log, buffered records included.
func (j *Journal) Offset() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.off
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	f := j.f
	j.f = nil
	if err := j.bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type ReplayOptions struct {
	MaxPayload int // <=0 uses DefaultMaxPayload
	// AllowTruncatedTail treats a half-written final record as a clean end.
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay feeds every intact record in path to fn in order. A missing file is
// an empty journal.
func Replay(path string, opts ReplayOptions, fn func(Record) error) (ReplayStats, error) {
	var st ReplayStats
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64<<10)
	var hdr [headerSize]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				st.TruncatedTail = true
				if opts.AllowTruncatedTail {
					return st, nil
				}
				return st, ErrCorruptHeader
			}
			return st, err
		}
		ln := int(binary.LittleEndian.Uint32(hdr[:4]))
		crc := binary.LittleEndian.Uint32(hdr[4:])
		if ln > maxPayload {
			return st, ErrPayloadTooLarge
		}
		payload := make([]byte, ln)
		if _, err := io.ReadFull(br, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				st.TruncatedTail = true
				if opts.AllowTruncatedTail {
					return st, nil
				}
				return st, ErrCorruptPayload
			}
			return st, err
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return st, ErrChecksumMismatch
		}
		var r Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return st, fmt.Errorf("journal: decode record at %d: %w", st.LastGoodOffset, err)
		}
		if err := fn(r); err != nil {
			return st, err
		}
		st.Records++
		st.LastGoodOffset += int64(headerSize + ln)
	}
}

// TruncateTo cuts path back to offset, dropping a torn tail. Offsets at or
// past the end and missing files are no-ops.
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("journal: negative truncate offset %d", offset)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if offset >= info.Size() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_ = f.Sync()
	return nil
}
