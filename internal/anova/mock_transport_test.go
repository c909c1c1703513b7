package anova

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/anovactl/internal/ble"
)

// mockCharacteristic records writes, allows subscribing, and can answer
// writes with canned notification fragments.
type mockCharacteristic struct {
	mu           sync.Mutex
	writes       []string
	callback     func([]byte)
	readData     []byte
	readErr      error
	readBlock    chan struct{} // when set, Read blocks until it is closed
	writeErr     error
	subscribeErr error

	// respond maps an outbound command to the notification fragments the
	// device sends back. Fragments are delivered asynchronously with a
	// small spacing, like real notifications.
	respond func(command string) []string
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	cmd := string(data)
	c.writes = append(c.writes, cmd)
	respond := c.respond
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if respond != nil {
		if fragments := respond(cmd); len(fragments) > 0 {
			go func() {
				for _, f := range fragments {
					time.Sleep(2 * time.Millisecond)
					c.SimulateNotification([]byte(f))
				}
			}()
		}
	}
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	block := c.readBlock
	err := c.readErr
	data := c.readData
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	return nil
}

// SimulateNotification delivers a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writtenCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *mockCharacteristic) clearWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

// mockConnection simulates a BLE connection with one characteristic.
type mockConnection struct {
	mu           sync.Mutex
	char         *mockCharacteristic
	discoverErr  error
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{char: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	if charUUID != ble.CharacteristicUUID {
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
	return c.char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE adapter. Connection attempts consume
// connectErrs in order, so a test can fail attempt 1 and succeed attempt 2.
type mockAdapter struct {
	mu           sync.Mutex
	peripherals  []ble.Peripheral
	scanErr      error
	connectErrs  []error
	connection   *mockConnection
	connects     int
	connectTimes []time.Time
	respond      func(command string) []string
	readBlock    chan struct{}
}

func newMockAdapter(peripherals []ble.Peripheral) *mockAdapter {
	return &mockAdapter{peripherals: peripherals}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context) ([]ble.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	return a.peripherals, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (ble.Connection, error) {
	a.mu.Lock()
	a.connects++
	a.connectTimes = append(a.connectTimes, time.Now())
	var err error
	if len(a.connectErrs) > 0 {
		err = a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
	}
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	conn := newMockConnection()
	conn.char.respond = a.respond
	conn.char.readBlock = a.readBlock
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

// failNextConnects queues per-attempt connect errors.
func (a *mockAdapter) failNextConnects(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErrs = append(a.connectErrs, errs...)
}

// latestConnection returns the most recently created connection.
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) connectAttempts() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]time.Time, len(a.connectTimes))
	copy(out, a.connectTimes)
	return out
}

var (
	_ ble.Adapter        = (*mockAdapter)(nil)
	_ ble.Connection     = (*mockConnection)(nil)
	_ ble.Characteristic = (*mockCharacteristic)(nil)
)
