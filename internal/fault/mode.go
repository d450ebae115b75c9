package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how the next mote to fail is chosen.
type Mode int

// Failure modes.
const (
	ModeNone Mode = iota
	ModeRandom
	ModeLocation
	ModeTemporal
)

// ErrInvalidMode is returned when a failure mode name is not recognised.
var ErrInvalidMode = errors.New("invalid failure mode")

var modeNames = map[Mode]string{
	ModeNone:     "none",
	ModeRandom:   "random",
	ModeLocation: "location",
	ModeTemporal: "temporal",
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler so modes round trip through YAML and JSON.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
