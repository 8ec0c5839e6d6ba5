// Package report renders engine snapshots for people and programs.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/openmined/mirrorbox/internal/mirror"
)

// Record is the wire form of a snapshot.
type Record struct {
	RunID          string `json:"run_id,omitempty"`
	ProcessedFiles int    `json:"processed_files"`
	TotalFiles     int    `json:"total_files"`
	ProcessedBytes int64  `json:"processed_bytes"`
	TotalBytes     int64  `json:"total_bytes"`
	CurrentFile    string `json:"current_file,omitempty"`
}

func NewRecord(runID string, snap mirror.Snapshot) Record {
	r := Record{
		RunID:          runID,
		ProcessedFiles: snap.ProcessedFiles,
		TotalFiles:     snap.TotalFiles,
		ProcessedBytes: snap.ProcessedBytes,
		TotalBytes:     snap.TotalBytes,
	}
	if snap.CurrentFile != nil {
		r.CurrentFile = snap.CurrentFile.FullName()
	}
	return r
}

// Marshal encodes r as a single JSON object.
func (r Record) Marshal() ([]byte, error) {
	return jsonMarshal(r)
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
	err   error
}

func NewJSONWriter(w io.Writer, runID string) *JSONWriter {
	return &JSONWriter{w: w, runID: runID}
}

// Write encodes snap. After the first failure later snapshots are dropped;
// the failure is kept for Err.
func (j *JSONWriter) Write(snap mirror.Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	j.err = jsonEncode(j.w, NewRecord(j.runID, snap))
}

func (j *JSONWriter) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Logger returns a subscriber that logs every snapshot at info level.
func Logger(logger *slog.Logger) func(mirror.Snapshot) {
	return func(snap mirror.Snapshot) {
		name := ""
		if snap.CurrentFile != nil {
			name = snap.CurrentFile.FullName()
		}
		logger.Info("progress",
			"files", fmt.Sprintf("%d/%d", snap.ProcessedFiles, snap.TotalFiles),
			"bytes", Bytes(snap.ProcessedBytes)+"/"+Bytes(snap.TotalBytes),
			"file", name,
		)
	}
}

// Bytes formats n like "1.2 MB".
func Bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// Percent is the byte progress of snap in [0, 1]. An empty queue counts as
// done.
func Percent(snap mirror.Snapshot) float64 {
	if snap.TotalBytes <= 0 {
		if snap.TotalFiles == 0 || snap.ProcessedFiles >= snap.TotalFiles {
			return 1
		}
		return float64(snap.ProcessedFiles) / float64(snap.TotalFiles)
	}
	p := float64(snap.ProcessedBytes) / float64(snap.TotalBytes)
	return min(p, 1)
}
