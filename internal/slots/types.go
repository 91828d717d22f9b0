package slots

import (
	"fmt"
	"strings"
)

// Kind is the search dimension a key is polled by.
type Kind int

const (
	KindPincode Kind = iota + 1
	KindDistrict
)

func (k Kind) String() string {
	switch k {
	case KindPincode:
		return "pincode"
	case KindDistrict:
		return "district"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "pincode"/"pin" and "district"/"district_id" (case-insensitive).
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pincode", "pin":
		return KindPincode, nil
	case "district", "district_id":
		return KindDistrict, nil
	default:
		return 0, fmt.Errorf("unknown kind %q (want pincode or district)", raw)
	}
}

// Key identifies a polling target. It is comparable and used as a map key.
type Key struct {
	Kind Kind
	Code string
}

func (k Key) String() string { return k.Kind.String() + ":" + k.Code }

// Center is a venue returned by the availability source.
type Center struct {
	Name     string
	Address  string
	Sessions []Session
}

// Session is one bookable slot at a center.
type Session struct {
	Date              string
	AvailableCapacity int
	MinAgeLimit       int
}
