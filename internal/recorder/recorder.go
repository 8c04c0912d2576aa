package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"edgepolicy/internal/model"
)

var header = []string{"Date", "Time", "CPU (%)", "RAM (%)", "Traffic", "Profile"}

// Row is one line of the sample log.
type Row struct {
	At      time.Time
	CPU     float64
	RAM     float64
	Traffic string
	Profile model.Profile
}

// Recorder appends samples to a CSV file. The header is written only when
// the file is new or empty.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sample log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat sample log: %w", err)
	}
	r := &Recorder{f: f, w: csv.NewWriter(f), path: path}
	if st.Size() == 0 {
		if err := r.write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Record(row Row) error {
	at := row.At
	if at.IsZero() {
		at = time.Now()
	}
	return r.write([]string{
		at.Format("2006-01-02"),
		at.Format("15:04:05"),
		strconv.FormatFloat(row.CPU, 'f', 2, 64),
		strconv.FormatFloat(row.RAM, 'f', 2, 64),
		row.Traffic,
		row.Profile.String(),
	})
}

func (r *Recorder) write(rec []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	if err := r.w.Write(rec); err != nil {
		return fmt.Errorf("write sample log: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("flush sample log: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
