package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DigiBanks99/lopen/internal/lopenerr"
	"github.com/google/renameio/v2"
)

// Store drives the on-disk session layout rooted at Root (§4.H).
type Store struct {
	Root string
}

// NewStore creates a Store rooted at root, ensuring the fixed subdirectory
// layout exists.
func NewStore(root string) (*Store, error) {
	s := &Store{Root: root}
	for _, dir := range []string{
		s.sessionsDir(), s.modulesDir(), s.cacheSectionsDir(),
		s.cacheAssessmentsDir(), s.corruptedDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) sessionsDir() string         { return filepath.Join(s.Root, "sessions") }
func (s *Store) modulesDir() string          { return filepath.Join(s.Root, "modules") }
func (s *Store) cacheSectionsDir() string    { return filepath.Join(s.Root, "cache", "sections") }
func (s *Store) cacheAssessmentsDir() string { return filepath.Join(s.Root, "cache", "assessments") }
func (s *Store) corruptedDir() string        { return filepath.Join(s.Root, "corrupted") }

func (s *Store) sessionDir(id string) string   { return filepath.Join(s.sessionsDir(), id) }
func (s *Store) stateFile(id string) string    { return filepath.Join(s.sessionDir(id), "state.json") }
func (s *Store) metricsFile(id string) string  { return filepath.Join(s.sessionDir(id), "metrics.json") }
func (s *Store) latestFile() string            { return filepath.Join(s.sessionsDir(), "latest.txt") }

var sessionIDPattern = regexp.MustCompile(`^([a-zA-Z0-9_-]+)-(\d{8})-(\d+)$`)

// NextSessionID allocates the next session id for module on date (the
// session's creation date, used in the <module>-<yyyymmdd>-<counter>
// format). Scans existing sessions/* matching the pattern for the day and
// returns max(counter)+1, or 1 if none exist (§4.H).
func (s *Store) NextSessionID(module string, date time.Time) (string, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return "", fmt.Errorf("session: reading sessions dir: %w", err)
	}
	datePart := date.UTC().Format("20060102")
	prefix := module + "-" + datePart + "-"
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := sessionIDPattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != module || m[2] != datePart {
			continue
		}
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.Atoi(m[3])
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

// Save writes state and metrics atomically (write-then-rename via
// renameio) and updates the latest pointer. Called by the orchestrator
// after every LLM invocation, state transition, pre-propagation error, and
// workflow completion (§4.H save triggers).
func (s *Store) Save(st State, m Metrics) error {
	if err := os.MkdirAll(s.sessionDir(st.SessionID), 0o755); err != nil {
		return lopenerr.New(lopenerr.ErrStorageCritical, "creating session directory", err.Error(), "check disk space and permissions")
	}

	stateBytes, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: marshaling state: %w", err)
	}
	if err := renameio.WriteFile(s.stateFile(st.SessionID), stateBytes, 0o644); err != nil {
		return lopenerr.New(lopenerr.ErrStorageCritical, "writing session state", err.Error(), "check disk space and permissions")
	}

	metricsBytes, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("session: marshaling metrics: %w", err)
	}
	if err := renameio.WriteFile(s.metricsFile(st.SessionID), metricsBytes, 0o644); err != nil {
		return lopenerr.New(lopenerr.ErrStorageCritical, "writing session metrics", err.Error(), "check disk space and permissions")
	}

	if err := renameio.WriteFile(s.latestFile(), []byte(st.SessionID), 0o644); err != nil {
		return lopenerr.New(lopenerr.ErrStorageCritical, "writing latest pointer", err.Error(), "check disk space and permissions")
	}

	return nil
}

// Load reads session state and metrics by id. A read that fails JSON
// parsing quarantines the offending file to corrupted/<basename>.<ts> and
// returns ok=false rather than an error (§4.H corruption handling).
func (s *Store) Load(id string) (State, Metrics, bool, error) {
	st, ok, err := s.loadState(id)
	if err != nil {
		return State{}, Metrics{}, false, err
	}
	if !ok {
		return State{}, Metrics{}, false, nil
	}
	m, ok, err := s.loadMetrics(id)
	if err != nil {
		return State{}, Metrics{}, false, err
	}
	if !ok {
		return State{}, Metrics{}, false, nil
	}
	return st, m, true, nil
}

func (s *Store) loadState(id string) (State, bool, error) {
	path := s.stateFile(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("session: reading state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		if qerr := s.quarantine(path); qerr != nil {
			return State{}, false, fmt.Errorf("session: quarantining corrupt state: %w", qerr)
		}
		return State{}, false, nil
	}
	return st, true, nil
}

func (s *Store) loadMetrics(id string) (Metrics, bool, error) {
	path := s.metricsFile(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Metrics{}, true, nil // metrics are optional; absence is not corruption
	}
	if err != nil {
		return Metrics{}, false, fmt.Errorf("session: reading metrics: %w", err)
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		if qerr := s.quarantine(path); qerr != nil {
			return Metrics{}, false, fmt.Errorf("session: quarantining corrupt metrics: %w", qerr)
		}
		return Metrics{}, false, nil
	}
	return m, true, nil
}

func (s *Store) quarantine(path string) error {
	ts := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(s.corruptedDir(), filepath.Base(path)+"."+ts)
	return os.Rename(path, dest)
}

// Latest returns the session id the latest pointer refers to, or ok=false
// if none is set.
func (s *Store) Latest() (string, bool, error) {
	data, err := os.ReadFile(s.latestFile())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: reading latest pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// List returns every session id currently on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return nil, fmt.Errorf("session: reading sessions dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Delete removes a session directory entirely.
func (s *Store) Delete(id string) error {
	return os.RemoveAll(s.sessionDir(id))
}

// Prune removes completed sessions, oldest (by UpdatedAt) first, until at
// most retentionLimit remain. retentionLimit<=0 means unlimited (no-op).
// Active and incomplete sessions are never pruned (§4.H).
func (s *Store) Prune(retentionLimit int) error {
	if retentionLimit <= 0 {
		return nil
	}
	ids, err := s.List()
	if err != nil {
		return err
	}

	type completed struct {
		id        string
		updatedAt time.Time
	}
	var done []completed
	for _, id := range ids {
		st, _, ok, err := s.Load(id)
		if err != nil {
			return err
		}
		if !ok || !st.IsComplete {
			continue
		}
		done = append(done, completed{id: id, updatedAt: st.UpdatedAt})
	}

	if len(done) <= retentionLimit {
		return nil
	}

	sort.Slice(done, func(i, j int) bool { return done[i].updatedAt.Before(done[j].updatedAt) })
	toRemove := len(done) - retentionLimit
	for i := 0; i < toRemove; i++ {
		if err := s.Delete(done[i].id); err != nil {
			return err
		}
	}
	return nil
}
