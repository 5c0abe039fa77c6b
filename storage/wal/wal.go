// Package wal implements the ledger's write-ahead log: a segmented,
// append-only record of every committed proposal. Segment rotation is
// size-based (implementation-defined per spec §4.4); readers transparently
// scan across every segment in order.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"atlasledger/consensus/bft"
	"atlasledger/observability"

	"lukechampine.com/blake3"
)

// DefaultMaxSegmentBytes bounds a single segment before rotation to the
// next file_id. Chosen generously; Open uses it when its maxSegmentBytes
// argument is zero or negative.
const DefaultMaxSegmentBytes = 64 << 20 // 64 MiB

// Location pinpoints a proposal's exact byte range within a segment, the
// value the Secondary Index stores under "proposals".
type Location struct {
	FileID uint32
	Offset int64
	Length uint32
}

// WAL is the write-ahead log handle. A single writer goroutine is assumed
// per instance (the Consensus Driver serializes commits through its own
// lock); WAL additionally guards its own file cursor with a mutex so
// concurrent readers never observe a torn write.
type WAL struct {
	mu              sync.Mutex
	dir             string
	maxSegmentBytes int64

	currentFileID uint32
	currentFile   *os.File
	currentOffset int64
}

// Open creates dir if needed and opens (or starts) the active segment,
// resuming from the highest-numbered existing segment file rather than
// always starting at 00001.log, so a restarted process keeps appending to
// its prior tail instead of silently starting a fresh, conflicting segment.
func Open(dir string, maxSegmentBytes int64) (*WAL, error) {
	if maxSegmentBytes <= 0 {
		maxSegmentBytes = DefaultMaxSegmentBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fileID, err := latestSegmentID(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir, maxSegmentBytes: maxSegmentBytes, currentFileID: fileID}
	if err := w.openSegment(fileID); err != nil {
		return nil, err
	}
	observability.Ledger().SetWALSegments(int(fileID))
	return w, nil
}

func latestSegmentID(dir string) (uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var max uint32 = 1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "%05d.log", &id); err == nil {
			if id > max {
				max = id
			}
		}
	}
	return max, nil
}

func segmentPath(dir string, fileID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%05d.log", fileID))
}

func (w *WAL) openSegment(fileID uint32) error {
	f, err := os.OpenFile(segmentPath(w.dir, fileID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.currentFile = f
	w.currentFileID = fileID
	w.currentOffset = info.Size()
	return nil
}

// Append serializes proposal, writes it to the active segment, and returns
// its Location. The record format is [4-byte LE payload length][JSON
// payload][32-byte blake3 checksum]; Offset points at the start of the
// payload so Read's (fileID, offset, length) triple names exactly the
// serialized proposal bytes, independent of the checksum's presence.
func (w *WAL) Append(p *bft.Proposal) (Location, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Location{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentOffset+int64(len(payload)) > w.maxSegmentBytes {
		if err := w.rotateLocked(); err != nil {
			return Location{}, err
		}
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	checksum := blake3.Sum256(payload)

	if _, err := w.currentFile.Write(lenBuf[:]); err != nil {
		return Location{}, err
	}
	payloadOffset := w.currentOffset + 4
	if _, err := w.currentFile.Write(payload); err != nil {
		return Location{}, err
	}
	if _, err := w.currentFile.Write(checksum[:]); err != nil {
		return Location{}, err
	}
	if err := w.currentFile.Sync(); err != nil {
		return Location{}, err
	}

	loc := Location{FileID: w.currentFileID, Offset: payloadOffset, Length: uint32(len(payload))}
	w.currentOffset = payloadOffset + int64(len(payload)) + 32
	return loc, nil
}

func (w *WAL) rotateLocked() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}
	if err := w.openSegment(w.currentFileID + 1); err != nil {
		return err
	}
	observability.Ledger().SetWALSegments(int(w.currentFileID))
	return nil
}

// Read seeks to loc within its segment and returns the deserialized
// proposal, verifying the trailing checksum.
func (w *WAL) Read(loc Location) (*bft.Proposal, error) {
	f, err := os.Open(segmentPath(w.dir, loc.FileID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	payload := make([]byte, loc.Length)
	if _, err := f.ReadAt(payload, loc.Offset); err != nil {
		return nil, err
	}
	checksum := make([]byte, 32)
	if _, err := f.ReadAt(checksum, loc.Offset+int64(loc.Length)); err != nil {
		return nil, err
	}
	want := blake3.Sum256(payload)
	if !equalBytes(checksum, want[:]) {
		return nil, fmt.Errorf("wal: checksum mismatch at %s offset %d", segmentPath(w.dir, loc.FileID), loc.Offset)
	}

	var p bft.Proposal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ReadAll scans every segment in ascending file_id order and returns every
// stored proposal, for full-log recovery and state-transfer scenarios.
func (w *WAL) ReadAll() ([]*bft.Proposal, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "%05d.log", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var all []*bft.Proposal
	for _, id := range ids {
		proposals, err := readSegment(segmentPath(w.dir, id))
		if err != nil {
			return nil, err
		}
		all = append(all, proposals...)
	}
	return all, nil
}

func readSegment(path string) ([]*bft.Proposal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var proposals []*bft.Proposal
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, err
		}
		checksum := make([]byte, 32)
		if _, err := io.ReadFull(f, checksum); err != nil {
			return nil, err
		}
		want := blake3.Sum256(payload)
		if !equalBytes(checksum, want[:]) {
			return nil, fmt.Errorf("wal: checksum mismatch in %s", path)
		}
		var p bft.Proposal
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		proposals = append(proposals, &p)
	}
	return proposals, nil
}

// Close flushes and closes the active segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentFile.Close()
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
