// Package audit keeps a tamper-evident, hash-chained trail of ledger
// ingestion outcomes.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// Record is one auditable event.
type Record struct {
	Action         string `json:"action"`
	SourceObjectID string `json:"source_object_id,omitempty"`
	EventKind      string `json:"event_kind,omitempty"`
	Outcome        string `json:"outcome"`
	Entries        int    `json:"entries,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// LogEntry represents a single audit log entry
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Recorder accepts audit records.
type Recorder interface {
	Record(rec Record) (*LogEntry, error)
}

// ChainLogger hash-chains records. The most recent entries are retained in
// memory for verification and every entry is also written to the logger.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64
	retained     []*LogEntry
	capacity     int
	logger       *slog.Logger
	now          func() time.Time
}

// NewChainLogger creates a ChainLogger retaining up to capacity entries.
// A nil logger disables log output.
func NewChainLogger(capacity int, logger *slog.Logger) *ChainLogger {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ChainLogger{
		previousHash: GenesisHash,
		capacity:     capacity,
		logger:       logger,
		now:          time.Now,
	}
}

// Record marshals rec and appends it to the chain.
func (c *ChainLogger) Record(rec Record) (*LogEntry, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record: %w", err)
	}
	return c.Append(string(payload)), nil
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := &LogEntry{
		Sequence:     c.sequence,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = hashEntry(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash

	c.retained = append(c.retained, entry)
	if len(c.retained) > c.capacity {
		c.retained = c.retained[len(c.retained)-c.capacity:]
	}

	if c.logger != nil {
		c.logger.Info("audit",
			"seq", entry.Sequence,
			"hash", entry.Hash,
			"prev", entry.PreviousHash,
			"payload", entry.Payload,
		)
	}

	return entry
}

// Entries returns a copy of the retained tail of the chain, oldest first.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*LogEntry, len(c.retained))
	for i, e := range c.retained {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
// The first entry's previous hash is trusted, so a retained tail verifies
// on its own.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}

		if hashEntry(prevHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}

func hashEntry(prev, ts, payload string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", prev, ts, payload)))
	return hex.EncodeToString(sum[:])
}
