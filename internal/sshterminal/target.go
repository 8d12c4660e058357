package sshterminal

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the SSH port used when a target does not name one.
const DefaultPort = 22

// Target identifies the remote account a session connects to.
type Target struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// Validate checks that the target can be dialed.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("host is empty")
	}
	if strings.TrimSpace(t.Username) == "" {
		return fmt.Errorf("username is empty")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("invalid port %d", t.Port)
	}
	return nil
}

// Address returns host:port suitable for net.Dial.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Username + "@" + t.Address()
}
