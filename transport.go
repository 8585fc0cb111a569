package dbus

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// BusType selects which well-known bus a Connection resolves its socket
// address against (spec §6).
type BusType int

const (
	SessionBus BusType = iota
	SystemBus
	AccessibilityBus
)

const defaultSystemBusPath = "/var/run/dbus/system_bus_socket"

// resolveBusAddress implements the env-var/default-path resolution table
// from spec §4.7/§6. Only the "unix:path=…" address form is supported
// (TCP/nonce-TCP/abstract-socket transports are out of scope per the
// Non-goals); anything else is InvalidAddressFormat.
func resolveBusAddress(bus BusType) (string, error) {
	switch bus {
	case SessionBus:
		addr, ok := os.LookupEnv("DBUS_SESSION_BUS_ADDRESS")
		if !ok {
			return "", errEnvVarNotFound
		}
		return parseUnixPath(addr)
	case SystemBus:
		if addr, ok := os.LookupEnv("DBUS_SYSTEM_BUS_ADDRESS"); ok {
			return parseUnixPath(addr)
		}
		return defaultSystemBusPath, nil
	case AccessibilityBus:
		if addr, ok := os.LookupEnv("AT_SPI_BUS_ADDRESS"); ok {
			return parseUnixPath(addr)
		}
		return fmt.Sprintf("/run/user/%d/at-spi/bus_0", unix.Getuid()), nil
	default:
		return "", fmt.Errorf("dbus: unknown bus type %d", bus)
	}
}

// parseUnixPath extracts PATH out of a "unix:path=PATH[,guid=…]" address
// string, grounded on z3ntu-go-dbus's transport.go newTransport address
// parser, narrowed to the one transport kind this library supports.
func parseUnixPath(address string) (string, error) {
	idx := strings.Index(address, ":")
	if idx < 0 {
		return "", errInvalidAddressFormat
	}
	transportType, rest := address[:idx], address[idx+1:]
	if transportType != "unix" {
		return "", errInvalidAddressFormat
	}

	for _, option := range strings.Split(rest, ",") {
		pair := strings.SplitN(option, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, err := url.QueryUnescape(pair[0])
		if err != nil {
			return "", errInvalidAddressFormat
		}
		if key != "path" {
			continue
		}
		value, err := url.QueryUnescape(pair[1])
		if err != nil {
			return "", errInvalidAddressFormat
		}
		return value, nil
	}
	return "", errInvalidAddressFormat
}

// dialUnix opens the Unix domain stream socket at path.
func dialUnix(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
