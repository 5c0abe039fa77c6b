// Package shard implements the sharded per-account entry-chain storage
// layer: one append-only file per account holding every LedgerEntry that
// touched it, in order, each one chain-linked to the last via
// LedgerEntry.PrevForAccount. This is the durable form of a single
// account's Account Entry Chain (AEC); storage/wal holds the same data
// keyed by proposal instead of by account.
package shard

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"atlasledger/core/ledger"
)

// Store owns one open file handle per account that has been written to
// since the process started. Handles are opened lazily on first Append.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
	tails map[string][32]byte
}

// Open creates dir if needed. No shard files are opened until Append or
// ReadAll names an account.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:   dir,
		files: make(map[string]*os.File),
		tails: make(map[string][32]byte),
	}, nil
}

// filename maps an account key to a safe on-disk name. Account keys use
// ':' as a namespace separator (wallet:, vault:, patrimonio:); filesystems
// on most deployment targets tolerate it, but a few reject it, so it is
// substituted for '_' rather than relying on the OS.
func filename(account string) string {
	return strings.ReplaceAll(account, ":", "_") + ".bin"
}

func (s *Store) fileFor(account string) (*os.File, error) {
	if f, ok := s.files[account]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, filename(account)), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[account] = f
	if tail, err := lastHash(f); err != nil {
		f.Close()
		delete(s.files, account)
		return nil, err
	} else if tail != nil {
		s.tails[account] = *tail
	}
	return f, nil
}

// Append writes entry to account's shard, enforcing that entry already
// carries the correct chain-linkage hash for this account: if the shard
// has a prior entry, entry.PrevForAccount[account] must equal its hash.
// This satisfies ledger.ShardAppender.
func (s *Store) Append(account string, entry *ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileFor(account)
	if err != nil {
		return err
	}

	want, hasPrior := s.tails[account]
	got, claims := entry.PrevForAccount[account]
	if hasPrior && (!claims || got != want) {
		return fmt.Errorf("shard: chain linkage mismatch for %s: entry %s does not reference the shard tail", account, entry.EntryID)
	}
	if !hasPrior && claims && got != ([32]byte{}) {
		return fmt.Errorf("shard: entry %s claims a predecessor but %s has no prior shard entry", entry.EntryID, account)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	s.tails[account] = entry.Hash()
	return nil
}

// ReadAll returns every entry recorded for account, in append order.
func (s *Store) ReadAll(account string) ([]*ledger.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileFor(account)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []*ledger.LedgerEntry
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
		var entry ledger.LedgerEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return entries, nil
}

// lastHash scans an already-open shard file front to back and returns the
// hash of its final entry, or nil if the shard is empty. Used only when a
// shard file is opened for the first time in this process, to recover the
// chain tail a restarted process needs in order to validate the next Append.
func lastHash(f *os.File) (*[32]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var last *[32]byte
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
		var entry ledger.LedgerEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, err
		}
		hash := entry.Hash()
		last = &hash
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return last, nil
}

// Close flushes and closes every open shard file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
