// Package id mints the time-sortable identifiers used for order and
// journal records.
package id

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator issues ULIDs from one monotonic entropy stream, so ids
// minted within the same millisecond still sort by issue order.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator seeds a generator from the OS entropy pool, falling
// back to the clock if that pool is unreadable.
func NewGenerator() *Generator {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	}
	seed := int64(binary.LittleEndian.Uint64(b[:]))
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// Next mints one ULID string.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), g.entropy).String()
}

var shared = NewGenerator()

// New mints a ULID from the process-wide generator. Order and journal
// records keyed by these sort chronologically in SQLite and log output.
func New() string {
	return shared.Next()
}
