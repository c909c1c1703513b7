package anova

import (
	"testing"
	"time"

	"github.com/chaz8081/anovactl/internal/ble"
)

func TestDiscoverFiltersByName(t *testing.T) {
	adapter := newMockAdapter([]ble.Peripheral{
		{Name: "Anova Precision Cooker", Address: "AA:BB:CC:DD:EE:01", RSSI: -50},
		{Name: "JBL Speaker", Address: "AA:BB:CC:DD:EE:02", RSSI: -60},
		{Name: "", Address: "AA:BB:CC:DD:EE:03", RSSI: -70},
	})

	found, err := Discover(adapter, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Discover() returned %d candidates, want 1", len(found))
	}
	if found[0].Address != "AA:BB:CC:DD:EE:01" {
		t.Errorf("candidate address = %q, want the named cooker", found[0].Address)
	}
}

func TestDiscoverMatchesByServiceUUID(t *testing.T) {
	adapter := newMockAdapter([]ble.Peripheral{
		{Name: "", Address: "AA:BB:CC:DD:EE:04", ServiceUUIDs: []string{ble.ServiceUUID}},
		{Name: "", Address: "AA:BB:CC:DD:EE:05", ServiceUUIDs: []string{"0000180f-0000-1000-8000-00805f9b34fb"}},
	})

	found, err := Discover(adapter, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Discover() returned %d candidates, want 1", len(found))
	}
	if found[0].Address != "AA:BB:CC:DD:EE:04" {
		t.Errorf("candidate address = %q, want the advertised service match", found[0].Address)
	}
	if found[0].Name != "Anova EE:04" {
		t.Errorf("unnamed candidate label = %q, want %q", found[0].Name, "Anova EE:04")
	}
}

func TestDiscoverNameMatchIsCaseInsensitive(t *testing.T) {
	adapter := newMockAdapter([]ble.Peripheral{
		{Name: "ANOVA pro", Address: "AA:BB:CC:DD:EE:06"},
	})
	found, err := Discover(adapter, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(found) != 1 {
		t.Errorf("Discover() returned %d candidates, want 1", len(found))
	}
}
