// Package index implements the ledger's secondary index: a transactional
// key-value store over goleveldb exposing three logical tables —
// proposals (id -> location), tx_hashes (hash -> id), and heights
// (big-endian height -> id) — all updated atomically per committed
// proposal via a single leveldb.Batch.
package index

import (
	"encoding/binary"
	"fmt"

	"atlasledger/storage/wal"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	proposalPrefix = "p:"
	txHashPrefix   = "t:"
	heightPrefix   = "h:"
)

// Index is the Secondary Index handle.
type Index struct {
	db *leveldb.DB
}

// Open opens (creating if needed) the leveldb database at path.
func Open(path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func locationKey(id string) []byte { return []byte(proposalPrefix + id) }
func txHashKey(hash string) []byte { return []byte(txHashPrefix + hash) }
func heightKey(height uint64) []byte {
	buf := make([]byte, len(heightPrefix)+8)
	copy(buf, heightPrefix)
	binary.BigEndian.PutUint64(buf[len(heightPrefix):], height)
	return buf
}

func encodeLocation(loc wal.Location) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], loc.FileID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(loc.Offset))
	binary.BigEndian.PutUint32(buf[12:16], loc.Length)
	return buf
}

func decodeLocation(b []byte) (wal.Location, error) {
	if len(b) != 16 {
		return wal.Location{}, fmt.Errorf("index: malformed location value (%d bytes)", len(b))
	}
	return wal.Location{
		FileID: binary.BigEndian.Uint32(b[0:4]),
		Offset: int64(binary.BigEndian.Uint64(b[4:12])),
		Length: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// IndexProposal records a committed proposal's location, its height, and
// the hashes of every transaction it carried, all within one atomic batch.
// Calling it twice with identical arguments is a no-op: the batch simply
// overwrites each key with the same value.
func (ix *Index) IndexProposal(id string, loc wal.Location, height uint64, txHashes []string) error {
	batch := new(leveldb.Batch)
	batch.Put(locationKey(id), encodeLocation(loc))
	batch.Put(heightKey(height), []byte(id))
	for _, hash := range txHashes {
		batch.Put(txHashKey(hash), []byte(id))
	}
	return ix.db.Write(batch, nil)
}

// GetLocation returns the stored location for a proposal id.
func (ix *Index) GetLocation(id string) (wal.Location, bool, error) {
	val, err := ix.db.Get(locationKey(id), nil)
	if err == leveldb.ErrNotFound {
		return wal.Location{}, false, nil
	}
	if err != nil {
		return wal.Location{}, false, err
	}
	loc, err := decodeLocation(val)
	if err != nil {
		return wal.Location{}, false, err
	}
	return loc, true, nil
}

// ExistsTx reports whether a transaction hash has already been indexed,
// used at ingestion time to reject replays.
func (ix *Index) ExistsTx(hash string) (bool, error) {
	_, err := ix.db.Get(txHashKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetIDsAfterHeight returns every proposal id committed at a height
// strictly greater than height, in ascending height order, via a
// prefix-bounded range scan over the heights table.
func (ix *Index) GetIDsAfterHeight(height uint64) ([]string, error) {
	start := heightKey(height + 1)
	limit := util.BytesPrefix([]byte(heightPrefix)).Limit

	iter := ix.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return ids, nil
}
