// Package journal persists forwarding failures to a Pebble-backed dead-letter
// log so they can be replayed once the ledger recovers.
package journal

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout
const (
	prefixEntry = "/deadletter/" // /deadletter/{16-digit-hex-seq}
	keyCursor   = "/dlcursor"    // last replayed sequence
	keySeq      = "/dlseq"       // highest assigned sequence
)

const defaultReadLimit = 100

// Entry is one failed forward attempt, exactly as it would have gone out
type Entry struct {
	Seq            uint64 `msgpack:"seq"`
	Stream         string `msgpack:"stream"`
	Endpoint       string `msgpack:"endpoint"`
	Payload        []byte `msgpack:"payload"`
	Reason         string `msgpack:"reason"`
	FailedAtMillis int64  `msgpack:"failed_at"`
}

// Journal is an append-only dead-letter log with a single replay cursor.
// Append is safe for concurrent use; replay is expected to be single-reader.
type Journal struct {
	db      *pebble.DB
	nextSeq atomic.Uint64
	closed  atomic.Bool
}

// Open creates or reopens the dead-letter journal under dataDir
func Open(dataDir string) (*Journal, error) {
	path := filepath.Join(dataDir, "dead_letter")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter journal at %s: %w", path, err)
	}

	j := &Journal{db: db}
	if err := j.loadNextSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load journal sequence: %w", err)
	}

	if pending := j.nextSeq.Load(); pending > 0 {
		cursor, err := j.Cursor()
		if err == nil && pending > cursor {
			log.Warn().
				Uint64("pending", pending-cursor).
				Str("path", path).
				Msg("Dead-letter journal has unreplayed entries")
		}
	}

	return j, nil
}

func (j *Journal) loadNextSeq() error {
	val, closer, err := j.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		j.nextSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	j.nextSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

// Append records a failed forward. The entry's Seq is assigned here.
func (j *Journal) Append(entry *Entry) error {
	if j.closed.Load() {
		return fmt.Errorf("journal is closed")
	}

	seq := j.nextSeq.Add(1)
	entry.Seq = seq

	val, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	batch := j.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(entryKey(seq)), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(keySeq), seqBuf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update journal sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit journal entry: %w", err)
	}

	return nil
}

// ReadFrom returns up to limit entries with sequence numbers above cursor
func (j *Journal) ReadFrom(cursor uint64, limit int) ([]Entry, error) {
	if j.closed.Load() {
		return nil, fmt.Errorf("journal is closed")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	prefix := []byte(prefixEntry)
	startKey := []byte(entryKey(cursor + 1))

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	for iter.SeekGE(startKey); iter.Valid() && len(entries) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var entry Entry
		if err := msgpack.Unmarshal(val, &entry); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping corrupted journal entry")
			continue
		}
		entries = append(entries, entry)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Cursor returns the sequence of the last successfully replayed entry
func (j *Journal) Cursor() (uint64, error) {
	if j.closed.Load() {
		return 0, fmt.Errorf("journal is closed")
	}

	val, closer, err := j.db.Get([]byte(keyCursor))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid cursor value length: %d", len(val))
	}
	return binary.LittleEndian.Uint64(val), nil
}

// AdvanceCursor marks everything up to seq as replayed and prunes the
// entries below it.
func (j *Journal) AdvanceCursor(seq uint64) error {
	if j.closed.Load() {
		return fmt.Errorf("journal is closed")
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := j.db.Set([]byte(keyCursor), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to advance journal cursor: %w", err)
	}

	if err := j.db.DeleteRange([]byte(prefixEntry), []byte(entryKey(seq+1)), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("cursor", seq).Msg("Failed to prune replayed journal entries")
	}

	return nil
}

// Pending returns the number of entries not yet replayed
func (j *Journal) Pending() (uint64, error) {
	cursor, err := j.Cursor()
	if err != nil {
		return 0, err
	}
	latest := j.nextSeq.Load()
	if latest <= cursor {
		return 0, nil
	}
	return latest - cursor, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("journal already closed")
	}
	return j.db.Close()
}

func entryKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixEntry, seq)
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
