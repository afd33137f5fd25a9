package vehiclelink

import (
	"fmt"
	"regexp"
	"strconv"
)

// connStringPattern matches spec §4.7's connection string grammar:
// `^(tcp|udp|udpin):[^:]+:[0-9]+$`.
var connStringPattern = regexp.MustCompile(`^(tcp|udp|udpin):([^:]+):([0-9]+)$`)

// ParseEndpoint validates and parses a connection string of the form
// "protocol:host:port" into an Endpoint. It is the sole validator for
// both the command surface and the channel's connect{} message.
func ParseEndpoint(connString string) (Endpoint, error) {
	m := connStringPattern.FindStringSubmatch(connString)
	if m == nil {
		return Endpoint{}, fmt.Errorf("invalid connection string %q", connString)
	}

	port, err := strconv.Atoi(m[3])
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid connection string %q: %w", connString, err)
	}

	return Endpoint{Protocol: m[1], Host: m[2], Port: port}, nil
}
