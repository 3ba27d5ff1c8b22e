package tasks

import (
	"sort"
	"sync"
)

// LedgerEntry is one recorded task accuracy, in percent.
type LedgerEntry struct {
	TaskIndex uint32  `json:"task_index"`
	Accuracy  float64 `json:"accuracy_pct"`
}

// AccuracyLedger holds the accuracy of every task this process recorded.
// All methods are safe for concurrent use; writes are serialized.
type AccuracyLedger struct {
	mu      sync.RWMutex
	entries map[uint32]float64
}

func NewAccuracyLedger() *AccuracyLedger {
	return &AccuracyLedger{entries: make(map[uint32]float64)}
}

// Record stores the accuracy percentage for taskIndex, replacing any earlier value.
func (l *AccuracyLedger) Record(taskIndex uint32, accuracyPct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[taskIndex] = accuracyPct
}

func (l *AccuracyLedger) Get(taskIndex uint32) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.entries[taskIndex]
	return v, ok
}

func (l *AccuracyLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Average returns the mean accuracy percentage and the number of entries.
// It returns (0, 0) when nothing has been recorded.
func (l *AccuracyLedger) Average() (float64, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range l.entries {
		sum += v
	}
	return sum / float64(len(l.entries)), len(l.entries)
}

// Entries returns a snapshot ordered by task index.
func (l *AccuracyLedger) Entries() []LedgerEntry {
	l.mu.RLock()
	out := make([]LedgerEntry, 0, len(l.entries))
	for idx, v := range l.entries {
		out = append(out, LedgerEntry{TaskIndex: idx, Accuracy: v})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TaskIndex < out[j].TaskIndex })
	return out
}
