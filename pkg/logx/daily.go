package logx

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogName    = "scibot"
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 3
	defaultMaxAgeDays = 30
)

// dailyWriter writes to one file per calendar day.
// The day is taken from now() at write time, so a long-running process rolls over at midnight.
type dailyWriter struct {
	mu  sync.Mutex
	cfg FileConfig
	now func() time.Time

	day string
	lj  *lumberjack.Logger
}

func newDailyWriter(cfg FileConfig, now func() time.Time) (*dailyWriter, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "."
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = defaultLogName
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaultMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = defaultMaxAgeDays
	}
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &dailyWriter{cfg: cfg, now: now}, nil
}

// DailyPath returns the log file path for the given day.
func DailyPath(cfg FileConfig, day time.Time) string {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = defaultLogName
	}
	return filepath.Join(dir, day.Format("2006-01-02")+"_"+name+".log")
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	day := now.Format("2006-01-02")
	if w.lj == nil || day != w.day {
		if w.lj != nil {
			_ = w.lj.Close()
		}
		w.day = day
		w.lj = &lumberjack.Logger{
			Filename:   DailyPath(w.cfg, now),
			MaxSize:    w.cfg.MaxSizeMB,
			MaxBackups: w.cfg.MaxBackups,
			MaxAge:     w.cfg.MaxAgeDays,
			LocalTime:  true,
		}
	}
	return w.lj.Write(p)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lj == nil {
		return nil
	}
	err := w.lj.Close()
	w.lj = nil
	return err
}
