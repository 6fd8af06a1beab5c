package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces prefixed, sortable ULID identifiers for domain records.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *Generator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

func (g *Generator) AttemptID() string   { return "ATT-" + g.next() }
func (g *Generator) TransferID() string  { return "TRF-" + g.next() }
func (g *Generator) ChallengeID() string { return "CHL-" + g.next() }
func (g *Generator) RateLockID() string  { return "FXL-" + g.next() }
func (g *Generator) ScheduleID() string  { return "SCH-" + g.next() }
func (g *Generator) RunID() string       { return "RUN-" + g.next() }
