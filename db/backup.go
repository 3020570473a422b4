package db

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	backupFileExt    = ".bak"
	backupTimeLayout = "20060102-150405"
)

// JournalBackups keeps timestamped copies of a journal file next to it,
// named <journal>.<yyyymmdd-hhmmss>.bak.
type JournalBackups struct {
	Path   string
	Keep   int
	Logger *zap.SugaredLogger
}

func (b JournalBackups) log() *zap.SugaredLogger {
	if b.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return b.Logger
}

// Create copies the journal and prunes the oldest copies beyond Keep. It
// returns the new backup path, or "" when the journal is missing or empty.
// A Keep of 0 disables backups.
func (b JournalBackups) Create(now time.Time) (string, error) {
	if b.Keep <= 0 {
		return "", nil
	}
	info, err := os.Stat(b.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("journal backup: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("journal backup: %s is not a regular file", b.Path)
	}
	if info.Size() == 0 {
		return "", nil
	}

	backupPath := b.Path + "." + now.UTC().Format(backupTimeLayout) + backupFileExt
	if err := copyJournal(b.Path, backupPath); err != nil {
		return "", fmt.Errorf("journal backup: %w", err)
	}
	b.log().Infow("journal backed up", "journal", b.Path, "backup", backupPath, "bytes", info.Size())

	b.prune()
	return backupPath, nil
}

// List returns the existing backups, oldest first.
func (b JournalBackups) List() ([]string, error) {
	dir, base := filepath.Split(b.Path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type backup struct {
		path  string
		taken time.Time
	}
	var found []backup
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), base+".")
		if !ok || e.IsDir() {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, backupFileExt)
		if !ok {
			continue
		}
		taken, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			continue
		}
		found = append(found, backup{path: filepath.Join(dir, e.Name()), taken: taken})
	}
	slices.SortFunc(found, func(x, y backup) int { return x.taken.Compare(y.taken) })

	paths := make([]string, 0, len(found))
	for _, f := range found {
		paths = append(paths, f.path)
	}
	return paths, nil
}

func (b JournalBackups) prune() {
	backups, err := b.List()
	if err != nil {
		b.log().Warnw("listing journal backups failed", "journal", b.Path, "error", err)
		return
	}
	if len(backups) <= b.Keep {
		return
	}
	for _, old := range backups[:len(backups)-b.Keep] {
		if err := os.Remove(old); err != nil {
			b.log().Warnw("removing old journal backup failed", "backup", old, "error", err)
			continue
		}
		b.log().Debugw("removed old journal backup", "backup", old)
	}
}

// copyJournal writes src to a temporary file beside dst and renames it, so a
// failed copy never leaves a truncated backup behind.
func copyJournal(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
