// Package doctor inspects a coordkit state directory for leftovers of
// crashed processes and repairs what can be repaired safely.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jvs-project/coordkit/pkg/filelock"
	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/jvs-project/coordkit/pkg/jsonutil"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/sharedmap"
)

// Severity levels, most serious last.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Finding categories.
const (
	CategoryLock  = "lock"
	CategoryGuard = "guard"
	CategoryMap   = "map"
	CategoryTmp   = "tmp"
)

// DefaultGrace is how old a temp or guard file must be before it is treated
// as abandoned rather than belonging to an operation in flight.
const DefaultGrace = time.Minute

const quarantineInfix = ".corrupt-"

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// RepairResult summarizes what Repair changed.
type RepairResult struct {
	LocksPruned     int      `json:"locks_pruned"`
	FilesRemoved    int      `json:"files_removed"`
	MapsQuarantined int      `json:"maps_quarantined"`
	Actions         []string `json:"actions"`
}

// Doctor performs state directory health checks.
type Doctor struct {
	locks *filelock.Manager
	maps  *sharedmap.Store
	grace time.Duration
	now   func() time.Time
}

// NewDoctor creates a doctor over the given lock and map directories.
func NewDoctor(locks *filelock.Manager, maps *sharedmap.Store) *Doctor {
	return &Doctor{locks: locks, maps: maps, grace: DefaultGrace, now: time.Now}
}

// WithGrace overrides DefaultGrace.
func (d *Doctor) WithGrace(g time.Duration) *Doctor {
	d.grace = g
	return d
}

// Check runs all diagnostic checks.
func (d *Doctor) Check() (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}

	if err := d.checkLocks(result); err != nil {
		return nil, err
	}
	if err := d.checkMaps(result); err != nil {
		return nil, err
	}
	for _, dir := range []string{d.locks.Dir(), d.maps.Dir()} {
		if err := d.checkLeftovers(dir, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (d *Doctor) checkLocks(result *Result) error {
	entries, err := d.locks.List()
	if err != nil {
		return fmt.Errorf("list locks: %w", err)
	}
	for _, e := range entries {
		if e.State != model.LockStateExpired {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			Category: CategoryLock,
			Description: fmt.Sprintf("expired lock on '%s' (owner %s, since %s)",
				e.Token.ResourceKey, ownerOf(e.Token), e.Token.ExpiresAt().UTC().Format(time.RFC3339)),
			Severity: SeverityInfo,
			Path:     e.Path,
		})
	}
	return nil
}

func ownerOf(tok *model.LockToken) string {
	if tok.OwnerID == "" {
		return "unknown"
	}
	if tok.Host != "" {
		return fmt.Sprintf("%s@%s:%d", tok.OwnerID, tok.Host, tok.PID)
	}
	return tok.OwnerID
}

func (d *Doctor) checkMaps(result *Result) error {
	files, err := d.corruptMaps()
	if err != nil {
		return err
	}
	for path, cause := range files {
		result.Findings = append(result.Findings, Finding{
			Category:    CategoryMap,
			Description: fmt.Sprintf("corrupt map file reads as empty: %v", cause),
			Severity:    SeverityError,
			Path:        path,
		})
		result.Healthy = false
	}
	return nil
}

func (d *Doctor) corruptMaps() (map[string]error, error) {
	entries, err := os.ReadDir(d.maps.Dir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read maps dir: %w", err)
	}
	out := map[string]error{}
	for _, de := range entries {
		if de.IsDir() || !sharedmap.IsMapFile(de.Name()) {
			continue
		}
		path := filepath.Join(d.maps.Dir(), de.Name())
		if cause := checkMapFile(path); cause != nil {
			out[path] = cause
		}
	}
	return out, nil
}

func checkMapFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	_, err = jsonutil.DecodeObject(data)
	return err
}

// checkLeftovers reports temp files from interrupted atomic writes and
// takeover guards left by a process that died holding one.
func (d *Doctor) checkLeftovers(dir string, result *Result) error {
	return d.walkLeftovers(dir, func(path, category string, age time.Duration) {
		desc := fmt.Sprintf("orphan temp file: %s", filepath.Base(path))
		severity := SeverityInfo
		if category == CategoryGuard {
			desc = fmt.Sprintf("takeover guard left by interrupted process: %s", filepath.Base(path))
			severity = SeverityWarning
		}
		if age < d.grace {
			desc += " (recent, may be in use)"
		}
		result.Findings = append(result.Findings, Finding{
			Category:    category,
			Description: desc,
			Severity:    severity,
			Path:        path,
		})
	})
}

func (d *Doctor) walkLeftovers(dir string, fn func(path, category string, age time.Duration)) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	now := d.now()
	for _, de := range entries {
		name := de.Name()
		var category string
		switch {
		case fsutil.IsTempFile(name):
			category = CategoryTmp
		case filelock.IsGuardFile(name):
			category = CategoryGuard
		default:
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		fn(filepath.Join(dir, name), category, now.Sub(info.ModTime()))
	}
	return nil
}

// Repair prunes expired locks, removes abandoned temp and guard files older
// than the grace period, and moves corrupt map files out of the way so the
// next write starts clean. Quarantined files keep their content. Each map is
// quarantined under its own lock.
func (d *Doctor) Repair(ctx context.Context) (*RepairResult, error) {
	res := &RepairResult{Actions: []string{}}

	n, err := d.locks.PruneExpired()
	if err != nil {
		return res, fmt.Errorf("prune locks: %w", err)
	}
	res.LocksPruned = n
	if n > 0 {
		res.Actions = append(res.Actions, fmt.Sprintf("pruned %d expired lock(s)", n))
	}

	for _, dir := range []string{d.locks.Dir(), d.maps.Dir()} {
		var removeErr error
		err := d.walkLeftovers(dir, func(path, _ string, age time.Duration) {
			if age < d.grace || removeErr != nil {
				return
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				removeErr = fmt.Errorf("remove %s: %w", path, err)
				return
			}
			res.FilesRemoved++
			res.Actions = append(res.Actions, "removed "+filepath.Base(path))
		})
		if err == nil {
			err = removeErr
		}
		if err != nil {
			return res, err
		}
	}

	corrupt, err := d.corruptMaps()
	if err != nil {
		return res, err
	}
	for path := range corrupt {
		suffix := quarantineInfix + d.now().UTC().Format("20060102T150405")
		dest, err := d.maps.Quarantine(ctx, filepath.Base(path), suffix)
		if err != nil {
			return res, fmt.Errorf("quarantine %s: %w", path, err)
		}
		if dest == "" {
			// a writer replaced it since the scan
			continue
		}
		res.MapsQuarantined++
		res.Actions = append(res.Actions, fmt.Sprintf("moved corrupt %s to %s", filepath.Base(path), filepath.Base(dest)))
	}
	return res, nil
}
