package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultMaxBackups = 20

var errNoBackups = errors.New("no ledger backups available")

type backupInfo struct {
	path      string
	timestamp int64
}

// BackupCurrent writes a consistent copy of the database into the backup
// directory and prunes the oldest backups beyond maxBackups.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	prefix, ext := s.backupNameParts()
	backupPath := uniqueBackupPath(s.backupDir, prefix, ext)

	s.mu.Lock()
	escaped := strings.ReplaceAll(backupPath, "'", "''")
	_, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped))
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}

	pruneBackups(s.listBackups(), maxBackups)
	return backupPath, nil
}

// Backups returns backup paths, oldest first.
func (s *Store) Backups() []string {
	var paths []string
	for _, b := range s.listBackups() {
		paths = append(paths, b.path)
	}
	return paths
}

func (s *Store) backupNameParts() (string, string) {
	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

// restoreFromBackup replaces an unreadable database with the newest backup, or with
// a fresh file when there are no backups.
func (s *Store) restoreFromBackup(openErr error) error {
	backups := s.listBackups()
	if len(backups) == 0 {
		_ = s.resetDatabaseFiles()
		if err := s.openDB(); err != nil {
			return fmt.Errorf("create fresh database after %v: %w", openErr, err)
		}
		return nil
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return fmt.Errorf("reset database after %v: %w", openErr, err)
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	return s.openDB()
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return firstErr
}

// listBackups returns backups sorted oldest first. The timestamp comes
// from the file name, or the modification time when the name has none.
func (s *Store) listBackups() []backupInfo {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil
	}

	prefix, ext := s.backupNameParts()
	var backups []backupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		tsPart := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ext)
		ts, err := strconv.ParseInt(tsPart, 10, 64)
		if err != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().UnixNano()
		}
		backups = append(backups, backupInfo{path: filepath.Join(s.backupDir, name), timestamp: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})
	return backups
}

func pruneBackups(backups []backupInfo, maxBackups int) {
	for i := 0; i < len(backups)-maxBackups; i++ {
		_ = os.Remove(backups[i].path)
	}
}

func uniqueBackupPath(dir, prefix, ext string) string {
	timestamp := time.Now().UnixNano()
	for {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
