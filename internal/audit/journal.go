// Package audit keeps an append-only, hash-chained journal of coordination
// events recorded under the state directory.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jvs-project/coordkit/pkg/jsonutil"
)

// FileName is the journal file under the state directory.
const FileName = "audit.jsonl"

// Event names a recorded coordination action.
type Event string

const (
	EventLockAcquire Event = "lock.acquire"
	EventLockRelease Event = "lock.release"
	EventLockRenew   Event = "lock.renew"
	EventLockPrune   Event = "lock.prune"
	EventMapSet      Event = "map.set"
	EventMapDelete   Event = "map.delete"
	EventMapCreate   Event = "map.create"
	EventRepair      Event = "doctor.repair"
)

// Record is one journal line.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	Event      Event          `json:"event"`
	Key        string         `json:"key,omitempty"`
	Owner      string         `json:"owner,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   string         `json:"prev_hash"`
	RecordHash string         `json:"record_hash"`
}

// Journal appends records to a JSONL file. Appends from other processes are
// serialized with an OS file lock on a sibling "<path>.lock" file.
type Journal struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewJournal returns a journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append adds a record chained to the last one in the file.
func (j *Journal) Append(event Event, key, owner string, details map[string]any) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if err := j.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock journal: %w", err)
	}
	defer j.lock.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	prev, err := lastHash(file)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Key:       key,
		Owner:     owner,
		Details:   details,
		PrevHash:  prev,
	}
	if rec.RecordHash, err = hashRecord(rec); err != nil {
		return nil, err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal journal record: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seek journal: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("sync journal: %w", err)
	}
	return rec, nil
}

// Records returns every well-formed record in file order. A missing journal
// has no records.
func (j *Journal) Records() ([]Record, error) {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var out []Record
	err = scan(file, func(rec Record) { out = append(out, rec) })
	return out, err
}

// VerifyResult describes the outcome of walking the hash chain.
type VerifyResult struct {
	Records  int    `json:"records"`
	Valid    bool   `json:"valid"`
	BrokenAt int    `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify recomputes every record hash and checks each link to its
// predecessor. BrokenAt is the 1-based index of the first bad record.
func (j *Journal) Verify() (*VerifyResult, error) {
	recs, err := j.Records()
	if err != nil {
		return nil, err
	}
	res := &VerifyResult{Records: len(recs), Valid: true}
	prev := ""
	for i := range recs {
		rec := recs[i]
		if rec.PrevHash != prev {
			res.Valid, res.BrokenAt, res.Reason = false, i+1, "previous hash mismatch"
			return res, nil
		}
		want, err := hashRecord(&rec)
		if err != nil {
			return nil, err
		}
		if want != rec.RecordHash {
			res.Valid, res.BrokenAt, res.Reason = false, i+1, "record hash mismatch"
			return res, nil
		}
		prev = rec.RecordHash
	}
	return res, nil
}

func lastHash(file *os.File) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek journal: %w", err)
	}
	var last string
	err := scan(file, func(rec Record) { last = rec.RecordHash })
	return last, err
}

func scan(r io.Reader, fn func(Record)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		fn(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

func hashRecord(rec *Record) (string, error) {
	unsigned := *rec
	unsigned.RecordHash = ""
	data, err := jsonutil.CanonicalMarshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("hash journal record: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
