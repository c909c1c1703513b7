package anova

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/anovactl/internal/ble"
)

// namePrefix identifies Anova cookers by advertised name.
const namePrefix = "anova"

// Discover performs one bounded scan and returns the peripherals that look
// like Anova cookers: advertised name containing "Anova" (case-insensitive)
// or the Anova service UUID in the advertisement. Nothing is retained
// between scans.
func Discover(adapter ble.Adapter, timeout time.Duration) ([]DeviceIdentity, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("anova: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	peripherals, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("anova: scan: %w", err)
	}
	slog.Debug("[BLE] scan finished", "total", len(peripherals))

	var candidates []DeviceIdentity
	for _, p := range peripherals {
		if !isCandidate(p) {
			continue
		}
		name := p.Name
		if name == "" {
			name = shortLabel(p.Address)
		}
		candidates = append(candidates, DeviceIdentity{Address: p.Address, Name: name})
		slog.Info("[BLE] found Anova device", "name", name, "address", p.Address, "rssi", p.RSSI)
	}
	return candidates, nil
}

func isCandidate(p ble.Peripheral) bool {
	if strings.Contains(strings.ToLower(p.Name), namePrefix) {
		return true
	}
	for _, uuid := range p.ServiceUUIDs {
		if strings.EqualFold(uuid, ble.ServiceUUID) {
			return true
		}
	}
	return false
}

// shortLabel names an anonymous peripheral by its address tail, the way the
// pairing flow labels unnamed scan hits.
func shortLabel(address string) string {
	tail := address
	if len(address) > 5 {
		tail = address[len(address)-5:]
	}
	return "Anova " + tail
}
