package lights

import (
	"fmt"
	"strconv"
	"strings"
)

// Layer is the relationship tier between chat participants.
type Layer int

const (
	LayerFirst   Layer = 1
	LayerSecond  Layer = 2
	LayerFriends Layer = 3
)

// Valid reports whether l is a known tier.
func (l Layer) Valid() bool {
	return l >= LayerFirst && l <= LayerFriends
}

func (l Layer) String() string {
	switch l {
	case LayerFirst:
		return "first"
	case LayerSecond:
		return "second"
	case LayerFriends:
		return "friends"
	default:
		return "layer(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLayer accepts the numeric wire form ("1".."3") or the tier name.
func ParseLayer(s string) (Layer, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "first":
		return LayerFirst, nil
	case "second":
		return LayerSecond, nil
	case "friends":
		return LayerFriends, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Layer(n).Valid() {
		return 0, fmt.Errorf("unknown layer %q", s)
	}
	return Layer(n), nil
}
