package bridge

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces correlation ids of the form
// "<unix-millis>-<random>-<sequence>". The timestamp and random part keep ids
// distinct across processes and reconnect cycles; the sequence keeps them
// distinct within one millisecond.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewIDGenerator returns a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh correlation id.
func (g *IDGenerator) Next() string {
	var b strings.Builder
	b.Grow(40)
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(uuid.NewString()[:8])
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(g.seq.Add(1), 36))
	return b.String()
}
