// Package wal implements the checkpoint engine's Write-Ahead Log: a
// backing file holding a header and the whole record list, rewritten on
// every persist, guarding in-memory copies with a record-before-effect
// protocol. The file has no fixed size limit and is not memory-mapped.
// A crash between the record and the copy
// always leaves a consistent, replayable trail. Grounded on
// original_source/include/sls_wal.h's sls_wal struct (oid, mapping,
// size, epoch, mutex) and original_source/tests/journal/journal.c's
// savepoint-delimited replay, expressed as a single mutex-guarded Go
// type instead of a pthread-mutexed C struct.
package wal

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/log"
	"github.com/sls-project/sls/pkg/metrics"
	"github.com/sls-project/sls/pkg/types"
)

// record is one logged intent: "copy src into dest before the real copy
// happens." Replay applies these in order to reach the same post-state
// the original execution would have, up to the last durable record.
type record struct {
	Dest int64
	Data []byte
}

// header is the WAL's persisted epoch and savepoint mark plus its owning
// oid, matching sls_wal's (oid, epoch) fields; it has no lock field, and
// the mapping/size fields of the C struct are represented by the backing
// file itself.
type header struct {
	Magic         types.Magic
	OID           types.OID
	Epoch         types.Epoch
	SavepointMark int
}

// WAL is a write-ahead log backed by one file, for one partition's
// in-memory transactions.
type WAL struct {
	mu sync.Mutex

	f      *os.File
	path   string
	oid    types.OID
	epoch  types.Epoch
	target Memory

	records   []record
	savepoint int
}

// Memory is the in-memory address space the WAL's memcpy replays into.
// The caller of Open supplies the implementation; no package in this
// module implements it.
type Memory interface {
	// CopyAt copies data into the target starting at dest.
	CopyAt(dest int64, data []byte) error
}

// Open maps the backing file at path for oid. On a fresh log the header
// is initialised at epoch 0. On an existing log with unreplayed records
// past the last savepoint, Replay is run automatically against target so
// memory is back in sync with persisted intent before Open returns.
func Open(path string, oid types.OID, target Memory) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.IOFailure(err, "opening wal file")
	}

	w := &WAL{f: f, path: path, oid: oid, target: target}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.IOFailure(err, "stat wal file")
	}
	if info.Size() == 0 {
		w.epoch = 0
		return w, nil
	}

	if err := w.load(); err != nil {
		f.Close()
		return nil, err
	}
	if w.savepoint < len(w.records) {
		if err := w.Replay(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// MemCpy logs (dest, src) as a record, durably appends it, then applies
// the in-memory copy, under the WAL's single lock. Because the record is
// written before the copy is committed, a crash between the two still
// leaves a replayable trail.
func (w *WAL) MemCpy(dest int64, src []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := make([]byte, len(src))
	copy(data, src)
	w.records = append(w.records, record{Dest: dest, Data: data})

	if err := w.persist(); err != nil {
		return err
	}
	return w.target.CopyAt(dest, data)
}

// Savepoint writes a durability barrier plus a "resume here" marker:
// subsequent Replay calls ignore every record before this point.
func (w *WAL) Savepoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.savepoint = len(w.records)
	return w.persist()
}

// Sync is a persistence barrier ensuring every MemCpy record so far is
// durable.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.persist(); err != nil {
		return err
	}
	metrics.WALSyncTotal.Inc()
	return nil
}

// Replay iterates records from the current savepoint and reapplies each
// one to target, in order.
func (w *WAL) Replay() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WALReplayDuration)

	log.WithPartition(uint64(w.oid)).Info().
		Int("records", len(w.records)-w.savepoint).
		Msg("replaying write-ahead log")

	for _, r := range w.records[w.savepoint:] {
		if err := w.target.CopyAt(r.Dest, r.Data); err != nil {
			return errors.IOFailure(err, "wal replay")
		}
	}
	return nil
}

// Close performs a final Sync then releases the file.
func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

func (w *WAL) persist() error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	h := header{Magic: types.MagicWALHeader, OID: w.oid, Epoch: w.epoch, SavepointMark: w.savepoint}
	if err := enc.Encode(h); err != nil {
		return errors.IOFailure(err, "encoding wal header")
	}
	if err := enc.Encode(w.records); err != nil {
		return errors.IOFailure(err, "encoding wal records")
	}

	if err := w.f.Truncate(0); err != nil {
		return errors.IOFailure(err, "truncating wal file")
	}
	if _, err := w.f.WriteAt(buf.Bytes(), 0); err != nil {
		return errors.IOFailure(err, "writing wal file")
	}
	return w.f.Sync()
}

func (w *WAL) load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return errors.IOFailure(err, "reading wal file")
	}

	dec := gob.NewDecoder(bytes.NewReader(data))
	var h header
	if err := dec.Decode(&h); err != nil {
		return errors.Corruption("wal: header decode failed")
	}
	if err := types.CheckMagic("wal header", h.Magic, types.MagicWALHeader); err != nil {
		return err
	}

	var records []record
	if err := dec.Decode(&records); err != nil {
		return errors.Corruption("wal: record stream decode failed")
	}

	w.epoch = h.Epoch
	w.savepoint = h.SavepointMark
	w.records = records
	return nil
}
