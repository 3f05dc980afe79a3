package contracts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDevice is returned for device strings not in the form "hw:port[,node]".
var ErrInvalidDevice = errors.New("invalid device address")

// DefaultDevice is the device used when none is configured.
const DefaultDevice = "hw:0"

// DeviceAddress locates a device on the bus. Node is -1 when any node on the port may be used.
type DeviceAddress struct {
	Port int
	Node int
}

func (a DeviceAddress) String() string {
	if a.Node < 0 {
		return fmt.Sprintf("hw:%d", a.Port)
	}
	return fmt.Sprintf("hw:%d,%d", a.Port, a.Node)
}

// ParseDevice parses a device address in the format "hw:port[,node]".
func ParseDevice(name string) (DeviceAddress, error) {
	if !strings.HasPrefix(name, "hw:") {
		return DeviceAddress{}, fmt.Errorf("%w: missing 'hw:' prefix in %q", ErrInvalidDevice, name)
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) > 2 {
		return DeviceAddress{}, fmt.Errorf("%w: expected 'hw:port[,node]', got %q", ErrInvalidDevice, name)
	}

	port, err := strconv.ParseUint(parts[0], 10, 31)
	if err != nil {
		return DeviceAddress{}, fmt.Errorf("%w: invalid port %q", ErrInvalidDevice, parts[0])
	}

	addr := DeviceAddress{Port: int(port), Node: -1}
	if len(parts) == 2 {
		node, err := strconv.ParseUint(parts[1], 10, 31)
		if err != nil {
			return DeviceAddress{}, fmt.Errorf("%w: invalid node %q", ErrInvalidDevice, parts[1])
		}
		addr.Node = int(node)
	}

	return addr, nil
}
