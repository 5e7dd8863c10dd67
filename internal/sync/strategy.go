package sync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConflictStrategy is returned for any strategy name outside the
// four supported ones.
var ErrInvalidConflictStrategy = errors.New("invalid conflict resolution strategy")

// Strategy decides which side wins when a record differs between the file
// store and the database projection.
type Strategy int

const (
	// FileWins overwrites the database row with the file's data.
	FileWins Strategy = iota + 1
	// DatabaseWins keeps the database row and discards the file's data.
	DatabaseWins
	// Timestamp lets the strictly newer updated_at win. Ties keep the database row.
	Timestamp
	// Manual writes nothing and reports the pair for a person to resolve.
	Manual
)

// DefaultStrategy is used when the caller does not name one.
const DefaultStrategy = FileWins

var strategyNames = map[Strategy]string{
	FileWins:     "file-wins",
	DatabaseWins: "database-wins",
	Timestamp:    "timestamp",
	Manual:       "manual",
}

// Strategies lists every supported strategy.
var Strategies = []Strategy{FileWins, DatabaseWins, Timestamp, Manual}

// StrategyNames returns the boundary names of Strategies, comma separated.
func StrategyNames() string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}

// ParseStrategy maps a boundary value to a Strategy. The empty string selects
// DefaultStrategy.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return DefaultStrategy, nil
	}
	for _, s := range Strategies {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", ErrInvalidConflictStrategy, name, StrategyNames())
}

// Valid reports whether s is one of the supported strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConflictStrategy, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
