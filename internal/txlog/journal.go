// Package txlog journals every write attempt as one JSON object per line.
package txlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Status string

const (
	StatusMined    Status = "mined"
	StatusReverted Status = "reverted"
	StatusFailed   Status = "failed"
)

// Event describes one update, propose or transfer attempt.
type Event struct {
	Time       time.Time         `json:"time"`
	Kind       string            `json:"kind"`
	Network    string            `json:"network,omitempty"`
	StrategyID string            `json:"strategyId"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Value      string            `json:"value,omitempty"`
	Request    map[string]string `json:"request,omitempty"`
	TxHash     string            `json:"txHash,omitempty"`
	Block      uint64            `json:"block,omitempty"`
	GasUsed    uint64            `json:"gasUsed,omitempty"`
	ProposalID string            `json:"proposalId,omitempty"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
}

// Journal appends events to a file. A nil *Journal discards everything.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open returns nil for a blank path. The file is created lazily on the first
// Record.
func Open(path string) *Journal {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Journal{path: path}
}

func (j *Journal) Record(ev Event) error {
	if j == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("txlog: encode: %w", err)
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			return fmt.Errorf("txlog: %w", err)
		}
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("txlog: %w", err)
		}
		j.file = f
	}
	if _, err := j.file.Write(b); err != nil {
		return fmt.Errorf("txlog: write: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
