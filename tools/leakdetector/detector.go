// tools/leakdetector/detector.go
package leakdetector

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Detector tracks in-flight tool tasks and reports those that run longer
// than the threshold, typically stragglers of a cancelled turn.
type Detector struct {
	mu        sync.Mutex
	tasks     map[uint64]task
	nextID    atomic.Uint64
	threshold time.Duration
	logger    *log.Logger
	done      chan struct{}
	closeOnce sync.Once
}

type task struct {
	tool       string
	toolCallID string
	stack      string
	created    time.Time
	reported   bool
}

// Straggler describes a task that outlived the threshold
type Straggler struct {
	Tool       string
	ToolCallID string
	Age        time.Duration
}

// New creates a detector checking every checkInterval for tasks older than threshold
func New(checkInterval, threshold time.Duration, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.Default()
	}
	d := &Detector{
		tasks:     make(map[uint64]task),
		threshold: threshold,
		logger:    logger,
		done:      make(chan struct{}),
	}

	// Start background monitoring
	go d.monitor(checkInterval)
	return d
}

// Track starts tracking a tool task and returns its handle
func (d *Detector) Track(tool, toolCallID string) uint64 {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)

	id := d.nextID.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[id] = task{
		tool:       tool,
		toolCallID: toolCallID,
		stack:      string(stack[:n]),
		created:    time.Now(),
	}
	return id
}

// Done marks a task as completed
func (d *Detector) Done(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tasks, id)
}

// Pending returns the number of tasks still running
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// monitor periodically checks for stragglers
func (d *Detector) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Check()
		case <-d.done:
			return
		}
	}
}

// Check logs each task older than the threshold once and returns all of them
func (d *Detector) Check() []Straggler {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var out []Straggler
	for id, t := range d.tasks {
		age := now.Sub(t.created)
		if age <= d.threshold {
			continue
		}
		out = append(out, Straggler{Tool: t.tool, ToolCallID: t.toolCallID, Age: age})
		if !t.reported {
			d.logger.Printf("Tool task still running: tool=%s tool_call_id=%s age=%v\nStack:\n%s",
				t.tool, t.toolCallID, age.Round(time.Second), t.stack)
			t.reported = true
			d.tasks[id] = t
		}
	}
	return out
}

// Close stops the detector
func (d *Detector) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}
