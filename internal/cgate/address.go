package cgate

import (
	"fmt"
	"strconv"
	"strings"
)

// unset marks an Address field that was not present in the source string
// (the group slot of a getall topic, or the application/group slots of a
// gettree topic).
const unset = -1

// Address is the (network, application, group) triple that identifies a
// C-Bus group. A field holds unset when the originating topic or command
// left that slot wildcarded.
type Address struct {
	Network     int
	Application int
	Group       int
}

// HasGroup reports whether Group was specified.
func (a Address) HasGroup() bool { return a.Group != unset }

// HasApplication reports whether Application was specified.
func (a Address) HasApplication() bool { return a.Application != unset }

// String returns the MQTT-form address, e.g. "254/56/4".
func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Network, a.Application, a.Group)
}

// CGatePath returns the C-Gate object path for this address under the
// given project, e.g. "HOME/254/56/4".
func (a Address) CGatePath(project string) string {
	return fmt.Sprintf("%s/%d/%d/%d", project, a.Network, a.Application, a.Group)
}

// networkString, applicationString and groupString render an address
// segment for building a C-Gate command line, where an unset (wildcard)
// segment renders as an empty string rather than "-1".
func (a Address) networkString() string     { return wildcardOr(a.Network) }
func (a Address) applicationString() string { return wildcardOr(a.Application) }
func (a Address) groupString() string       { return wildcardOr(a.Group) }

func wildcardOr(v int) string {
	if v == unset {
		return ""
	}
	return strconv.Itoa(v)
}

// ParseAddress parses a 3-level "n/a/g" address string. Empty segments are
// accepted and recorded as unset (used for getall/gettree wildcards).
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: expected n/a/g, got %q", ErrInvalidAddress, s)
	}

	network, err := parseAddressPart(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("%w: network: %w", ErrInvalidAddress, err)
	}
	application, err := parseAddressPart(parts[1])
	if err != nil {
		return Address{}, fmt.Errorf("%w: application: %w", ErrInvalidAddress, err)
	}
	group, err := parseAddressPart(parts[2])
	if err != nil {
		return Address{}, fmt.Errorf("%w: group: %w", ErrInvalidAddress, err)
	}

	return Address{Network: network, Application: application, Group: group}, nil
}

func parseAddressPart(s string) (int, error) {
	if s == "" {
		return unset, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return v, nil
}
