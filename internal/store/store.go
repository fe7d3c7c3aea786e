// Package store provides a BoltDB-backed history of poll cycles for jetdash.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"jetdash/internal/batch"
)

var cyclesBucket = []byte("cycles")

// CycleRecord is one poll cycle as stored in the database. Result and Meta
// hold the zstd-compressed documents of a successful cycle.
type CycleRecord struct {
	ID        string        `msgpack:"id"`
	StartedAt time.Time     `msgpack:"started_at"`
	Duration  time.Duration `msgpack:"duration"`
	OK        bool          `msgpack:"ok"`
	Error     string        `msgpack:"error,omitempty"`
	ExitCode  int           `msgpack:"exit_code"`
	Summary   batch.Summary `msgpack:"summary"`
	Result    []byte        `msgpack:"result,omitempty"`
	Meta      []byte        `msgpack:"meta,omitempty"`
}

// Size returns the compressed size of the stored documents.
func (r *CycleRecord) Size() int {
	return len(r.Result) + len(r.Meta)
}

// Store records poll cycles in a bbolt file. The file is opened per
// operation so a reader does not block on a running poller.
type Store struct {
	path    string
	timeout time.Duration
	mu      sync.Mutex
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	log     zerolog.Logger
}

// New prepares a store at the given path and creates the bucket.
func New(path string, log zerolog.Logger) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	s := &Store{path: path, timeout: 5 * time.Second, enc: enc, dec: dec, log: log}

	err = s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cyclesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating cycles bucket: %w", err)
	}
	return s, nil
}

// Close releases the compression state.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return nil
}

func (s *Store) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", s.path, err)
	}
	return db, nil
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

// Append records one cycle. A cycle with a payload stores its documents
// compressed; a failed cycle stores only its error.
func (s *Store) Append(startedAt time.Time, took time.Duration, p *batch.Payload, cycleErr error) (*CycleRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating record id: %w", err)
	}

	record := CycleRecord{
		ID:        id.String(),
		StartedAt: startedAt,
		Duration:  took,
		OK:        cycleErr == nil && p != nil,
	}
	if cycleErr != nil {
		record.Error = cycleErr.Error()
	}
	if p != nil {
		record.ExitCode = p.ExitCode
		record.Summary = p.Summary()
		record.Result = s.enc.EncodeAll(p.Result, nil)
		record.Meta = s.enc.EncodeAll(p.Meta, nil)
	}

	data, err := msgpack.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("marshaling cycle record: %w", err)
	}

	err = s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(cyclesBucket).Put(id[:], data)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("id", record.ID).
		Bool("ok", record.OK).
		Int("stored_bytes", len(data)).
		Msg("Cycle recorded")
	return &record, nil
}

// List returns up to n records, newest first. n <= 0 returns all.
func (s *Store) List(n int) ([]CycleRecord, error) {
	var records []CycleRecord
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(cyclesBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(records) >= n {
				break
			}
			var record CycleRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Msg("Skipping corrupt record")
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Documents decompresses a record's result and metadata documents.
func (s *Store) Documents(r *CycleRecord) (result, meta []byte, err error) {
	if !r.OK {
		return nil, nil, errors.New("record has no documents")
	}
	if result, err = s.dec.DecodeAll(r.Result, nil); err != nil {
		return nil, nil, fmt.Errorf("decompressing result: %w", err)
	}
	if meta, err = s.dec.DecodeAll(r.Meta, nil); err != nil {
		return nil, nil, fmt.Errorf("decompressing metadata: %w", err)
	}
	return result, meta, nil
}

// Prune deletes records started more than retention ago and returns how
// many were removed. A non-positive retention keeps everything.
func (s *Store) Prune(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)

	removed := 0
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cyclesBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var record CycleRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if record.StartedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Dur("retention", retention).Msg("History pruned")
	}
	return removed, nil
}
