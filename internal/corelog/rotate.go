package corelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatingFile is a zapcore.WriteSyncer that switches to a new
// `<cage>-YYYYMMDD.log` file whenever the local date changes, per §6.
// No log-rotation library is wired elsewhere in this module, so this
// one piece is native Go rather than a third-party dependency.
type rotatingFile struct {
	mu      sync.Mutex
	dir     string
	cage    string
	current *os.File
	day     string
}

// NewRotatingFile opens (or creates) today's log file under dir for
// cage, rotating automatically on the next Write that crosses midnight
// local time.
func NewRotatingFile(dir, cage string) (*rotatingFile, error) {
	rf := &rotatingFile{dir: dir, cage: cage}
	if err := rf.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) dayStamp() string {
	return time.Now().Format("20060102")
}

func (rf *rotatingFile) rotateIfNeeded() error {
	day := rf.dayStamp()
	if day == rf.day && rf.current != nil {
		return nil
	}
	if err := os.MkdirAll(rf.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(rf.dir, fmt.Sprintf("%s-%s.log", rf.cage, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	old := rf.current
	rf.current = f
	rf.day = day
	if old != nil {
		old.Close()
	}
	return nil
}

// Write implements io.Writer, rotating first if the date has advanced.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := rf.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return rf.current.Write(p)
}

// Sync implements zapcore.WriteSyncer, fsyncing the current file — the
// action §6 requires on every ERR record.
func (rf *rotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.current == nil {
		return nil
	}
	return rf.current.Sync()
}

// Close releases the underlying file handle.
func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.current == nil {
		return nil
	}
	return rf.current.Close()
}
