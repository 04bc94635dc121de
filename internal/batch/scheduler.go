package batch

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"corpusqa/internal/logging"
)

// Scheduler fires scheduled questions when their cron expressions come due.
// One entry never runs twice concurrently; a firing that overlaps a still
// running execution of the same entry is skipped.
type Scheduler struct {
	entries  map[string]ScheduleEntry
	parser   cron.Parser
	lastRun  map[string]time.Time
	running  map[string]bool
	mu       sync.RWMutex
	stopChan chan struct{}

	Log *logging.Logger
}

// NewScheduler validates the entries and builds a scheduler.
func NewScheduler(entries []ScheduleEntry) (*Scheduler, error) {
	s := &Scheduler{
		entries:  make(map[string]ScheduleEntry),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		s.entries[e.Name] = e
	}
	return s, nil
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns when the named entry fires next.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun reports whether the named entry is due and not already running.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || s.running[name] {
		return false
	}
	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(sched.Next(lastRun))
}

// MarkRunning flags an entry as executing.
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete clears the running flag and records the execution time.
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// GetEntry returns the named entry.
func (s *Scheduler) GetEntry(name string) (ScheduleEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// ListEntries returns all schedule names.
func (s *Scheduler) ListEntries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start checks the schedule once a minute and launches due entries through
// runFunc. Blocks until Stop is called.
func (s *Scheduler) Start(runFunc func(ScheduleEntry) error) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			for name := range s.entries {
				if !s.ShouldRun(name) {
					continue
				}
				e, _ := s.GetEntry(name)
				s.MarkRunning(name)
				go func(e ScheduleEntry) {
					if err := runFunc(e); err != nil {
						s.Log.Printf("schedule %s failed: %v", e.Name, err)
					}
					s.MarkComplete(e.Name)
				}(e)
			}
		}
	}
}

// Stop terminates the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
