package snapkeep

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces the random component of entity IDs.
// Implementations must return a SuffixLength-character lowercase base36 string.
type IDGenerator interface {
	New() string
}

// SuffixLength is the length of the random component of an ID.
const SuffixLength = 6

// suffixSpace is 36^SuffixLength.
const suffixSpace = 36 * 36 * 36 * 36 * 36 * 36

// UUIDGenerator draws ID suffixes from random (v4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[8:]) % suffixSpace
	s := strconv.FormatUint(n, 36)
	if len(s) < SuffixLength {
		s = strings.Repeat("0", SuffixLength-len(s)) + s
	}
	return s
}
