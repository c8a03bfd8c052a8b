// Package store persists the ledger arena and notification log in SQLite.
// The node restores the ledger from it at startup and writes through it on
// every applied transaction.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
)

var _ ledger.Persister = (*Store)(nil)

// Store persists ledger entities to a SQLite database file.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

// NewStore opens (or creates) the database at filePath. A database that
// cannot be opened is replaced by its most recent backup when one exists.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.openDB(); err != nil {
		if recErr := s.restoreFromBackup(err); recErr != nil {
			return nil, recErr
		}
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Updates returns a channel that receives a value whenever stored state changes.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Path returns the absolute database path.
func (s *Store) Path() string {
	return s.file
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS todo_lists (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			task_refs TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT,
			description TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todo_lists_owner ON todo_lists(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			seq INTEGER PRIMARY KEY,
			package_id TEXT NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS applied_txs (
			hash TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Meta returns a stored setting, or "" when unset.
func (s *Store) Meta(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a setting.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// SaveList inserts or replaces a list.
func (s *Store) SaveList(l types.TodoList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := saveList(s.db, l); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SaveTask inserts or replaces a task. Owner and creation time are never
// rewritten once stored.
func (s *Store) SaveTask(t types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := saveTask(s.db, t); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SaveTaskInList stores a new task and the list that now references it in
// one transaction. Either both rows change or neither does.
func (s *Store) SaveTaskInList(t types.Task, l types.TodoList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := saveTask(tx, t); err != nil {
		tx.Rollback()
		return err
	}
	if err := saveList(tx, l); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task %s: %w", t.ID, err)
	}
	s.notify()
	return nil
}

func saveList(ex execer, l types.TodoList) error {
	refs, err := json.Marshal(l.TaskRefs)
	if err != nil {
		return fmt.Errorf("encode task refs: %w", err)
	}
	_, err = ex.Exec(`INSERT INTO todo_lists (id, owner, task_refs) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET task_refs = excluded.task_refs`,
		string(l.ID), string(l.Owner), string(refs))
	if err != nil {
		return fmt.Errorf("save list: %w", err)
	}
	return nil
}

func saveTask(ex execer, t types.Task) error {
	_, err := ex.Exec(`INSERT INTO tasks (id, owner, title, description, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			completed = excluded.completed`,
		string(t.ID), string(t.Owner), t.Title, t.Description, boolToInt(t.Completed), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// AppliedTxs returns the hashes of every delivered transaction.
func (s *Store) AppliedTxs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT hash FROM applied_txs`)
	if err != nil {
		return nil, fmt.Errorf("query applied txs: %w", err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan applied tx: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// SaveAppliedTx records a delivered transaction hash.
func (s *Store) SaveAppliedTx(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO applied_txs (hash) VALUES (?)`, hash); err != nil {
		return fmt.Errorf("save applied tx: %w", err)
	}
	return nil
}

// AppendNotification records an emitted notification.
func (s *Store) AppendNotification(n types.Notification) error {
	if n.Event == nil {
		return errors.New("notification has no event")
	}
	data, err := json.Marshal(n.Event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT INTO notifications (seq, package_id, type, data) VALUES (?, ?, ?, ?)`,
		n.Seq, n.PackageID, string(n.Event.Type()), string(data))
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// Load reads the full ledger contents.
func (s *Store) Load() (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap ledger.Snapshot

	rows, err := s.db.Query(`SELECT id, owner, task_refs FROM todo_lists ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("query lists: %w", err)
	}
	for rows.Next() {
		var id, owner, refs string
		if err := rows.Scan(&id, &owner, &refs); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan list: %w", err)
		}
		l := types.TodoList{ID: types.ObjectID(id), Owner: types.Address(owner), TaskRefs: []types.ObjectID{}}
		if err := json.Unmarshal([]byte(refs), &l.TaskRefs); err != nil {
			rows.Close()
			return snap, fmt.Errorf("decode task refs of %s: %w", id, err)
		}
		snap.Lists = append(snap.Lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.Query(`SELECT id, owner, title, description, completed, created_at FROM tasks ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("query tasks: %w", err)
	}
	for rows.Next() {
		var (
			t                  types.Task
			id, owner          string
			title, description sql.NullString
			completed          int
		)
		if err := rows.Scan(&id, &owner, &title, &description, &completed, &t.CreatedAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan task: %w", err)
		}
		t.ID = types.ObjectID(id)
		t.Owner = types.Address(owner)
		t.Title = title.String
		t.Description = description.String
		t.Completed = completed != 0
		snap.Tasks = append(snap.Tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.Query(`SELECT seq, package_id, type, data FROM notifications ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n         types.Notification
			eventType string
			data      string
		)
		if err := rows.Scan(&n.Seq, &n.PackageID, &eventType, &data); err != nil {
			return snap, fmt.Errorf("scan notification: %w", err)
		}
		ev, err := types.DecodeEvent(types.EventType(eventType), []byte(data))
		if err != nil {
			return snap, fmt.Errorf("notification %d: %w", n.Seq, err)
		}
		n.Event = ev
		snap.Notifications = append(snap.Notifications, n)
	}
	return snap, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
