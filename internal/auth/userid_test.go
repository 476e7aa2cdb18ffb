package auth

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserIDMechanism(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &IPAddressUserID{}, NewUserIDMechanism("IP_ADDRESS", ""))
	assert.IsType(t, &IPAddressUserID{}, NewUserIDMechanism("ip_address", ""))

	mac := NewUserIDMechanism("MAC_ADDRESS", "eth1")
	require.IsType(t, &MACAddressUserID{}, mac)
	assert.Equal(t, "eth1", mac.(*MACAddressUserID).Interface)

	assert.Equal(t, StaticUserID("my-user"), NewUserIDMechanism("my-user", ""))
}

func TestIPAddressUserID(t *testing.T) {
	t.Parallel()

	m := &IPAddressUserID{HostAddress: func() (string, error) { return "192.168.1.10", nil }}
	id, err := m.CreateUserID()
	require.NoError(t, err)
	// sha256("192.168.1.10")
	assert.Equal(t, sha256Hex("192.168.1.10"), id)
	assert.Len(t, id, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", id)

	failing := &IPAddressUserID{HostAddress: func() (string, error) { return "", errors.New("no network") }}
	_, err = failing.CreateUserID()
	assert.ErrorContains(t, err, "no network")
}

func TestIPAddressUserID_DefaultLookup(t *testing.T) {
	t.Parallel()

	id, err := (&IPAddressUserID{}).CreateUserID()
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", id)
}

func TestMACAddressUserID(t *testing.T) {
	t.Parallel()

	ifaces := []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
		{Index: 2, Name: "eth0", HardwareAddr: net.HardwareAddr{0x02, 0x42, 0xAC, 0x11, 0x00, 0x02}},
		{Index: 3, Name: "eth1", HardwareAddr: net.HardwareAddr{0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}},
		{Index: 4, Name: "tun0"},
	}
	list := func() ([]net.Interface, error) { return ifaces, nil }

	tests := []struct {
		name    string
		hint    string
		want    string
		wantErr string
	}{
		{name: "first hardware interface", want: sha256Hex("0242ac110002")},
		{name: "by name", hint: "eth1", want: sha256Hex("0a0b0c0d0e0f")},
		{name: "by index", hint: "3", want: sha256Hex("0a0b0c0d0e0f")},
		{name: "unknown interface", hint: "wlan0", wantErr: "not found"},
		{name: "no hardware address", hint: "tun0", wantErr: "no hardware address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := (&MACAddressUserID{Interface: tt.hint, Interfaces: list}).CreateUserID()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestMACAddressUserID_NoInterfaces(t *testing.T) {
	t.Parallel()

	m := &MACAddressUserID{Interfaces: func() ([]net.Interface, error) {
		return []net.Interface{{Index: 1, Name: "lo", Flags: net.FlagLoopback}}, nil
	}}
	_, err := m.CreateUserID()
	assert.ErrorContains(t, err, "no network interface")
}

func TestStaticUserID(t *testing.T) {
	t.Parallel()

	id, err := StaticUserID("static-user").CreateUserID()
	require.NoError(t, err)
	assert.Equal(t, "static-user", id)

	_, err = StaticUserID("").CreateUserID()
	assert.Error(t, err)
}

func TestSha256Hex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sha256Hex(""))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha256Hex("hello"))
}
