package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SequentialRotator is an io.Writer that rolls the active file over to
// <name>.<seq>.log once it exceeds maxSize, pruning old rolls by count and age.
type SequentialRotator struct {
	filename   string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewSequentialRotator(filename string, maxSizeMB, maxAgeDays, maxBackups int, compress bool) *SequentialRotator {
	return &SequentialRotator{
		filename:   filename,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		maxBackups: maxBackups,
		compress:   compress,
	}
}

func (r *SequentialRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *SequentialRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

func (r *SequentialRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *SequentialRotator) open() error {
	if err := os.MkdirAll(filepath.Dir(r.filename), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	r.file = file
	r.size = info.Size()
	return nil
}

func (r *SequentialRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil

	rolled := fmt.Sprintf("%s.%d.log", strings.TrimSuffix(r.filename, ".log"), r.nextSequence())
	if err := os.Rename(r.filename, rolled); err != nil {
		return err
	}
	r.prune()
	return r.open()
}

type rolledFile struct {
	path    string
	seq     int
	modTime time.Time
}

func (r *SequentialRotator) rolledFiles() []rolledFile {
	base := strings.TrimSuffix(filepath.Base(r.filename), ".log")
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(r.filename), base+".*.log"))
	if err != nil {
		return nil
	}

	files := make([]rolledFile, 0, len(matches))
	for _, path := range matches {
		parts := strings.Split(filepath.Base(path), ".")
		if len(parts) < 3 {
			continue
		}
		seq, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, rolledFile{path: path, seq: seq, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq > files[j].seq })
	return files
}

func (r *SequentialRotator) nextSequence() int {
	files := r.rolledFiles()
	if len(files) == 0 {
		return 1
	}
	return files[0].seq + 1
}

func (r *SequentialRotator) prune() {
	files := r.rolledFiles()
	cutoff := time.Now().Add(-r.maxAge)
	for i, f := range files {
		expired := r.maxAge > 0 && f.modTime.Before(cutoff)
		if (r.maxBackups > 0 && i >= r.maxBackups) || expired {
			_ = os.Remove(f.path)
		}
	}
}
