// Package snowflake issues 64-bit time-ordered identifiers without central
// coordination. Layout: 42-bit millisecond timestamp relative to a fixed
// epoch, 5-bit worker tag, 5-bit process tag, 12-bit per-millisecond sequence.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shelter/internal/logger"
)

// Epoch is the custom epoch in Unix milliseconds (Nov 14, 2023).
const Epoch = int64(1700000000000)

const (
	workerBits   = 5
	processBits  = 5
	sequenceBits = 12

	workerMask   = (1 << workerBits) - 1
	processMask  = (1 << processBits) - 1
	sequenceMask = (1 << sequenceBits) - 1

	timestampShift = workerBits + processBits + sequenceBits
	workerShift    = processBits + sequenceBits
	processShift   = sequenceBits
)

// Generator produces strictly increasing identifiers for a single
// (worker, process) pair. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	worker   int64
	process  int64
	lastTS   int64
	sequence int64
	pinned   bool

	now func() time.Time
}

// New returns a Generator for the given worker and process tags.
// Tags are truncated to their 5-bit fields.
func New(worker, process int64) *Generator {
	return &Generator{
		worker:  worker & workerMask,
		process: process & processMask,
		lastTS:  -1,
		now:     time.Now,
	}
}

// Generate returns the next identifier as a decimal string.
// If the system clock moves backward, the generator pins to the last-seen
// timestamp instead of reusing already-issued sequence space.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.millis()
	if ts < g.lastTS {
		if !g.pinned {
			logger.Errorf("snowflake: clock moved backward by %dms, pinning to last timestamp", g.lastTS-ts)
			g.pinned = true
		}
		ts = g.lastTS
	} else if g.pinned && ts > g.lastTS {
		g.pinned = false
	}

	if ts == g.lastTS {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			// Sequence exhausted for this millisecond: spin until the
			// clock advances.
			for ts <= g.lastTS {
				ts = g.millis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTS = ts

	id := (ts-Epoch)<<timestampShift |
		g.worker<<workerShift |
		g.process<<processShift |
		g.sequence
	return strconv.FormatInt(id, 10)
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// Timestamp extracts the embedded creation time from an identifier.
func Timestamp(id string) (time.Time, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("snowflake.Timestamp: %w", err)
	}
	ms := (n >> timestampShift) + Epoch
	return time.UnixMilli(ms), nil
}
