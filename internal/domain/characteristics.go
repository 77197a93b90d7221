package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedCharacteristics = errors.New("unsupported route characteristics")

// Characteristics selects how a position list is interpreted on the map
type Characteristics int

const (
	Waypoints Characteristics = iota
	Route
	Track
)

func (c Characteristics) String() string {
	switch c {
	case Waypoints:
		return "waypoints"
	case Route:
		return "route"
	case Track:
		return "track"
	default:
		return "unknown"
	}
}

func (c Characteristics) Valid() bool {
	return c == Waypoints || c == Route || c == Track
}

// ParseCharacteristics accepts the names returned by String, case-insensitive
func ParseCharacteristics(s string) (Characteristics, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "waypoints", "waypoint":
		return Waypoints, nil
	case "route":
		return Route, nil
	case "track":
		return Track, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCharacteristics, s)
	}
}

func (c Characteristics) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCharacteristics, int(c))
	}
	return []byte(c.String()), nil
}

func (c *Characteristics) UnmarshalText(text []byte) error {
	parsed, err := ParseCharacteristics(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
