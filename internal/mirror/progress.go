package mirror

import (
	"sync"

	"github.com/openmined/mirrorbox/internal/storage"
)

// Snapshot is the cumulative progress of an engine at the moment a file was
// resolved.
type Snapshot struct {
	ProcessedFiles int
	TotalFiles     int
	ProcessedBytes int64
	TotalBytes     int64
	CurrentFile    storage.File
}

// Progress keeps the transfer queue and the running counters of an engine.
// The queue only grows; a file is queued once no matter how often it is
// registered, and TotalBytes follows the latest size seen for it.
type Progress struct {
	mu             sync.Mutex
	index          map[string]int // full name -> position in queue
	queue          []Entry
	totalBytes     int64
	processedFiles int
	processedBytes int64
	current        storage.File
}

func NewProgress() *Progress {
	return &Progress{index: make(map[string]int)}
}

// Register appends e to the queue unless a file with the same full name is
// already there, in which case the queued entry takes e's size. It reports
// whether the queue grew.
func (p *Progress) Register(e Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := e.File.FullName()
	if i, ok := p.index[name]; ok {
		p.totalBytes += e.Info.Size - p.queue[i].Info.Size
		p.queue[i] = e
		return false
	}
	p.index[name] = len(p.queue)
	p.queue = append(p.queue, e)
	p.totalBytes += e.Info.Size
	return true
}

// Complete counts e as resolved and returns the resulting snapshot.
func (p *Progress) Complete(e Entry) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processedFiles++
	p.processedBytes += e.Info.Size
	p.current = e.File
	return p.snapshot()
}

// Current returns the latest counters without changing them.
func (p *Progress) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Queued returns the full names of every registered file in registration
// order.
func (p *Progress) Queued() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, len(p.queue))
	for i, e := range p.queue {
		names[i] = e.File.FullName()
	}
	return names
}

func (p *Progress) snapshot() Snapshot {
	return Snapshot{
		ProcessedFiles: p.processedFiles,
		TotalFiles:     len(p.queue),
		ProcessedBytes: p.processedBytes,
		TotalBytes:     p.totalBytes,
		CurrentFile:    p.current,
	}
}
