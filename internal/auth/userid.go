package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/systmms/vaultconfig/internal/config"
)

// UserIDMechanism derives the AppId user id
type UserIDMechanism interface {
	CreateUserID() (string, error)
}

// NewUserIDMechanism maps the app-id.user-id setting to a mechanism.
// IP_ADDRESS and MAC_ADDRESS derive the id from the host; anything else is
// used verbatim.
func NewUserIDMechanism(userID, networkInterface string) UserIDMechanism {
	switch strings.ToUpper(strings.TrimSpace(userID)) {
	case config.UserIDIPAddress:
		return &IPAddressUserID{}
	case config.UserIDMACAddress:
		return &MACAddressUserID{Interface: networkInterface}
	default:
		return StaticUserID(userID)
	}
}

// StaticUserID is a configured user id
type StaticUserID string

// CreateUserID returns the configured value
func (s StaticUserID) CreateUserID() (string, error) {
	if s == "" {
		return "", fmt.Errorf("app-id user-id is empty")
	}
	return string(s), nil
}

// IPAddressUserID hashes the host's primary IP address
type IPAddressUserID struct {
	// HostAddress overrides address discovery
	HostAddress func() (string, error)
}

// CreateUserID returns the hex SHA-256 of the host address
func (m *IPAddressUserID) CreateUserID() (string, error) {
	lookup := m.HostAddress
	if lookup == nil {
		lookup = hostAddress
	}
	addr, err := lookup()
	if err != nil {
		return "", fmt.Errorf("cannot determine host IP address: %w", err)
	}
	return sha256Hex(addr), nil
}

// MACAddressUserID hashes the hardware address of a network interface
type MACAddressUserID struct {
	// Interface is an interface name or index. Empty selects the first
	// non-loopback interface with a hardware address.
	Interface string

	// Interfaces overrides interface discovery
	Interfaces func() ([]net.Interface, error)
}

// CreateUserID returns the hex SHA-256 of the lowercase hex MAC address
func (m *MACAddressUserID) CreateUserID() (string, error) {
	list := m.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return "", fmt.Errorf("cannot list network interfaces: %w", err)
	}

	iface, err := pickInterface(ifaces, m.Interface)
	if err != nil {
		return "", err
	}
	return sha256Hex(hex.EncodeToString(iface.HardwareAddr)), nil
}

func pickInterface(ifaces []net.Interface, hint string) (net.Interface, error) {
	if hint != "" {
		index, numErr := strconv.Atoi(hint)
		for _, iface := range ifaces {
			if iface.Name == hint || (numErr == nil && iface.Index == index) {
				if len(iface.HardwareAddr) == 0 {
					return net.Interface{}, fmt.Errorf("network interface %q has no hardware address", hint)
				}
				return iface, nil
			}
		}
		return net.Interface{}, fmt.Errorf("network interface %q not found", hint)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface, nil
	}
	return net.Interface{}, fmt.Errorf("no network interface with a hardware address")
}

// hostAddress resolves the local host name, falling back to the first
// non-loopback interface address.
func hostAddress() (string, error) {
	if name, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupHost(name); err == nil {
			for _, a := range addrs {
				if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
					return a, nil
				}
			}
			if len(addrs) > 0 {
				return addrs[0], nil
			}
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
	}
	return "127.0.0.1", nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
