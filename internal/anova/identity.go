// Package anova implements the BLE client for the Anova Precision Cooker
// A2/A3. The device speaks a line-oriented text protocol over a single GATT
// characteristic with no framing, so the client has to serialize commands,
// reassemble notification fragments with a timing heuristic, and retry a
// flaky radio link.
package anova

import (
	"fmt"
	"strings"
)

// DeviceIdentity is a discovered or configured cooker.
type DeviceIdentity struct {
	Address string // canonical MAC form, colon-separated uppercase octets
	Name    string
}

// CanonicalAddress normalizes a MAC-style address to colon-separated
// uppercase hex octets. Colons, dashes and spaces are accepted as input
// separators. Anything that is not exactly six hex octets is rejected —
// before any transport call is ever attempted with it.
func CanonicalAddress(addr string) (string, error) {
	cleaned := strings.ToUpper(addr)
	for _, sep := range []string{":", "-", " "} {
		cleaned = strings.ReplaceAll(cleaned, sep, "")
	}
	if len(cleaned) != 12 {
		return "", fmt.Errorf("anova: invalid device address %q: want 12 hex digits, got %d", addr, len(cleaned))
	}
	for _, c := range cleaned {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			return "", fmt.Errorf("anova: invalid device address %q: %q is not a hex digit", addr, c)
		}
	}
	octets := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		octets = append(octets, cleaned[i:i+2])
	}
	return strings.Join(octets, ":"), nil
}
