// Package endpoint selects the local IPv4 address and port the transfer
// server advertises for a given transfer mode.
package endpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which class of network interface to advertise.
type Mode int

const (
	// ModeHotspot expects the phone to provide the link (tethering or
	// WiFi-Direct); the PC address sits in a tethering subnet.
	ModeHotspot Mode = iota
	// ModeLAN expects both devices on the same WiFi network.
	ModeLAN
)

func (m Mode) String() string {
	switch m {
	case ModeHotspot:
		return "hotspot"
	case ModeLAN:
		return "lan"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "hotspot":
		return ModeHotspot, nil
	case "lan", "wifi", "internet":
		return ModeLAN, nil
	default:
		return ModeLAN, fmt.Errorf("unknown transfer mode %q", s)
	}
}

// Config is the immutable endpoint request: changing it requires a server
// stop/start cycle.
type Config struct {
	Mode Mode
	Port int
}

// Resolved is the concrete endpoint the server binds, recomputed on every
// start and never persisted.
type Resolved struct {
	Address string
	Port    int
	URL     string
	// Warning is set when the requested mode could not be matched exactly
	// and the resolver fell back to the first usable interface.
	Warning string
}

var (
	// ErrNoInterface is returned when no usable non-loopback IPv4
	// interface exists.
	ErrNoInterface = errors.New("no usable network interface")

	// ErrPortUnavailable is returned when the requested port cannot be
	// bound on the chosen address. The resolver never auto-increments.
	ErrPortUnavailable = errors.New("port unavailable")
)
