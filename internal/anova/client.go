package anova

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/anovactl/internal/ble"
)

// errNoReply reports a refresh cycle in which not a single query got an
// answer.
var errNoReply = errors.New("anova: no reply to any status query")

// ConnState is the connection lifecycle state. Only the Client mutates it;
// the transport's disconnect callback is the one transition not triggered by
// a caller.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// The BLE stack needs this long to reliably complete a connection no matter
// what the caller asked for.
const connectTimeoutFloor = 10 * time.Second

// Observer receives client lifecycle events. The metrics collector plugs in
// here; by default events go nowhere.
type Observer interface {
	ConnectAttempt(ok bool)
	Disconnected()
	CommandResult(outcome AckOutcome)
}

type noopObserver struct{}

func (noopObserver) ConnectAttempt(bool)      {}
func (noopObserver) Disconnected()            {}
func (noopObserver) CommandResult(AckOutcome) {}

// ClientOptions configures timeouts and framing policies.
type ClientOptions struct {
	CommandTimeout      time.Duration // overall deadline per exchange
	ReadFallbackTimeout time.Duration // direct read after a silent exchange
	InterCommandDelay   time.Duration // pause between refresh round trips
	ConnectBackoff      time.Duration // fixed wait between failed attempts
	ScanTimeout         time.Duration // pre-connect availability scan bound
	ReconnectTimeout    time.Duration // single reconnect before a command
	StatusPolicy        CompletionPolicy
	AckPolicy           CompletionPolicy
	Observer            Observer
}

// DefaultClientOptions returns the empirically tuned defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		CommandTimeout:      5 * time.Second,
		ReadFallbackTimeout: 2 * time.Second,
		InterCommandDelay:   200 * time.Millisecond,
		ConnectBackoff:      2 * time.Second,
		ScanTimeout:         2 * time.Second,
		ReconnectTimeout:    5 * time.Second,
		StatusPolicy:        StatusPolicy,
		AckPolicy:           AckPolicy,
		Observer:            noopObserver{},
	}
}

// Client owns one cooker: connection state, the single-command pipeline and
// the last known status. Safe for concurrent use; commands are serialized
// FIFO against the shared characteristic.
type Client struct {
	adapter  ble.Adapter
	identity DeviceIdentity
	opts     ClientOptions

	// gate is the command serializer. A one-slot channel rather than a
	// sync.Mutex because the runtime wakes channel waiters in FIFO order.
	gate chan struct{}

	enableOnce sync.Once
	enableErr  error

	mu        sync.Mutex
	state     ConnState
	conn      ble.Connection
	char      ble.Characteristic
	notifying bool
	gen       uint64 // bumped on every connect/disconnect
	exchange  *accumulator
	status    Status
}

// NewClient creates a client for the device at the given address. The
// address is canonicalized and rejected here, before any transport call.
func NewClient(adapter ble.Adapter, identity DeviceIdentity, opts ClientOptions) (*Client, error) {
	canon, err := CanonicalAddress(identity.Address)
	if err != nil {
		return nil, err
	}
	identity.Address = canon
	if identity.Name == "" {
		identity.Name = "Anova Precision Cooker"
	}
	def := DefaultClientOptions()
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.ReadFallbackTimeout <= 0 {
		opts.ReadFallbackTimeout = def.ReadFallbackTimeout
	}
	if opts.InterCommandDelay <= 0 {
		opts.InterCommandDelay = def.InterCommandDelay
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = def.ConnectBackoff
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ReconnectTimeout <= 0 {
		opts.ReconnectTimeout = def.ReconnectTimeout
	}
	if opts.StatusPolicy.SilenceWindow <= 0 {
		opts.StatusPolicy = def.StatusPolicy
	}
	if opts.AckPolicy.SilenceWindow <= 0 {
		opts.AckPolicy = def.AckPolicy
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Client{
		adapter:  adapter,
		identity: identity,
		opts:     opts,
		gate:     make(chan struct{}, 1),
	}, nil
}

// Identity returns the device this client talks to.
func (c *Client) Identity() DeviceIdentity {
	return c.identity
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport link is open right now, not
// merely whether it was open the last time anyone looked.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.conn != nil && c.char != nil
}

// Connect establishes the link, retrying up to attempts times with a fixed
// backoff in between. Already connected is a no-op success. Exhausting every
// attempt returns false with the state left Disconnected; it is never
// escalated further than that.
func (c *Client) Connect(ctx context.Context, attempts int, perAttemptTimeout time.Duration) bool {
	if c.IsConnected() {
		return true
	}
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			slog.Info("[BLE] retrying connect", "backoff", c.opts.ConnectBackoff, "attempt", attempt, "of", attempts)
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return false
			case <-time.After(c.opts.ConnectBackoff):
			}
		}
		if c.connectOnce(ctx, perAttemptTimeout, true) {
			c.opts.Observer.ConnectAttempt(true)
			return true
		}
		c.opts.Observer.ConnectAttempt(false)
	}
	slog.Error("[BLE] connect failed", "address", c.identity.Address, "attempts", attempts)
	c.setState(StateDisconnected)
	return false
}

// connectOnce performs a single connection attempt: availability scan,
// transport connect, characteristic discovery, notification subscribe and an
// optional best-effort status refresh.
func (c *Client) connectOnce(ctx context.Context, timeout time.Duration, withRefresh bool) bool {
	c.enableOnce.Do(func() { c.enableErr = c.adapter.Enable() })
	if c.enableErr != nil {
		slog.Error("[BLE] adapter enable failed", "error", c.enableErr)
		return false
	}

	c.setState(StateConnecting)
	slog.Info("[BLE] connecting", "address", c.identity.Address)

	// A scan miss is only a hint: the device may still answer a direct
	// connection, so log and carry on.
	scanCtx, cancelScan := context.WithTimeout(ctx, c.opts.ScanTimeout)
	peripherals, err := c.adapter.Scan(scanCtx)
	cancelScan()
	if err != nil {
		slog.Debug("[BLE] availability scan failed", "error", err)
	} else if !scanSawAddress(peripherals, c.identity.Address) {
		slog.Warn("[BLE] device not seen in scan, trying direct connection anyway", "address", c.identity.Address)
	}

	if timeout < connectTimeoutFloor {
		timeout = connectTimeoutFloor
	}
	connCtx, cancelConn := context.WithTimeout(ctx, timeout)
	conn, err := c.adapter.Connect(connCtx, c.identity.Address)
	cancelConn()
	if err != nil {
		slog.Warn("[BLE] connect attempt failed", "error", err)
		c.setState(StateDisconnected)
		return false
	}

	char, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.CharacteristicUUID)
	if err != nil {
		slog.Warn("[BLE] characteristic discovery failed", "error", err)
		_ = conn.Disconnect()
		c.setState(StateDisconnected)
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.char = char
	c.state = StateConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// The transport's disconnect callback is authoritative even if a command
	// is mid-flight.
	conn.OnDisconnect(func() { c.handleDisconnect(gen) })

	// Degrade to poll-via-direct-read if the device refuses notifications.
	if err := char.Subscribe(c.handleNotification); err != nil {
		slog.Warn("[BLE] could not enable notifications, falling back to direct reads", "error", err)
	} else {
		c.mu.Lock()
		c.notifying = true
		c.mu.Unlock()
	}

	slog.Info("[BLE] connected", "address", c.identity.Address)

	if withRefresh {
		refreshCtx, cancel := context.WithTimeout(ctx, 3*c.opts.CommandTimeout)
		if err := c.refreshStatus(refreshCtx); err != nil {
			slog.Warn("[BLE] initial status refresh failed", "error", err)
		}
		cancel()
	}
	return true
}

// Disconnect tears the link down: best-effort unsubscribe, then close.
// Always ends Disconnected; calling it again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	char := c.char
	notifying := c.notifying
	c.conn = nil
	c.char = nil
	c.notifying = false
	c.state = StateDisconnected
	c.gen++
	c.mu.Unlock()

	if char != nil && notifying {
		_ = char.Unsubscribe()
	}
	if conn != nil {
		_ = conn.Disconnect()
		slog.Info("[BLE] disconnected", "address", c.identity.Address)
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handleDisconnect reacts to the transport's asynchronous drop callback.
// The generation check ignores callbacks from connections we already
// replaced or closed ourselves.
func (c *Client) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.char = nil
	c.notifying = false
	c.gen++
	acc := c.exchange
	c.mu.Unlock()

	// Wake an in-flight exchange so it fails now instead of riding out
	// its full timeout.
	if acc != nil {
		acc.abort()
	}
	c.opts.Observer.Disconnected()
	slog.Warn("[BLE] link lost", "address", c.identity.Address)
}

// handleNotification routes a notification fragment to the in-flight
// exchange, if any. Fragments with no exchange to own them are dropped.
func (c *Client) handleNotification(data []byte) {
	c.mu.Lock()
	acc := c.exchange
	c.mu.Unlock()
	if acc != nil {
		acc.add(data)
	}
}

func scanSawAddress(peripherals []ble.Peripheral, address string) bool {
	for _, p := range peripherals {
		if canon, err := CanonicalAddress(p.Address); err == nil && canon == address {
			return true
		}
	}
	return false
}

// execute runs one exchange: acquire the serializer, ensure the link,
// write the command, collect the reply. ok is false when no reply could be
// obtained at all.
func (c *Client) execute(ctx context.Context, command string, policy CompletionPolicy) (reply string, ok bool) {
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return "", false
	}
	defer func() { <-c.gate }()
	return c.executeLocked(ctx, command, policy)
}

// executeLocked is execute without the gate; the caller must hold it.
func (c *Client) executeLocked(ctx context.Context, command string, policy CompletionPolicy) (string, bool) {
	if !c.IsConnected() {
		// One reconnect attempt; the command itself is not retried.
		// No refresh here: we are about to run a command anyway, and a
		// refresh would need the gate we are holding.
		if !c.connectOnce(ctx, c.opts.ReconnectTimeout, false) {
			c.setState(StateDisconnected)
			return "", false
		}
	}

	c.mu.Lock()
	char := c.char
	gen := c.gen
	if c.state != StateConnected || char == nil {
		c.mu.Unlock()
		return "", false
	}
	acc := newAccumulator(policy)
	c.exchange = acc
	c.mu.Unlock()

	// Cleanup must run even on timeout so a late fragment from this
	// exchange cannot corrupt the next one.
	defer func() {
		c.mu.Lock()
		if c.exchange == acc {
			c.exchange = nil
		}
		c.mu.Unlock()
	}()

	slog.Debug("[BLE] sending command", "command", strings.TrimRight(command, "\r"))
	if err := char.Write([]byte(command)); err != nil {
		slog.Warn("[BLE] write failed", "error", err)
		// The link may still be open at the transport level even though the
		// write failed; close it rather than leak it.
		c.mu.Lock()
		var conn ble.Connection
		if c.gen == gen {
			conn = c.conn
		}
		c.mu.Unlock()
		c.handleDisconnect(gen)
		if conn != nil {
			_ = conn.Disconnect()
		}
		return "", false
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	reply, got := acc.wait(cmdCtx)
	cancel()

	if !got {
		// Silent exchange: one direct characteristic read before failing.
		slog.Debug("[BLE] no notification, trying direct read")
		if text, read := c.directRead(ctx, char); read {
			reply = text
			got = true
		}
	}

	// A result produced after the link dropped is not trustworthy.
	c.mu.Lock()
	stale := c.gen != gen || c.state != StateConnected
	c.mu.Unlock()
	if stale {
		slog.Debug("[BLE] discarding result from stale exchange")
		return "", false
	}
	if got {
		slog.Debug("[BLE] reply", "text", reply)
	}
	return reply, got
}

// directRead performs one characteristic read bounded by ReadFallbackTimeout.
// The transport call itself cannot be cancelled, so a read that outlives the
// deadline finishes in the background and its result is dropped.
func (c *Client) directRead(ctx context.Context, char ble.Characteristic) (string, bool) {
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := char.Read()
		ch <- readResult{data, err}
	}()

	timer := time.NewTimer(c.opts.ReadFallbackTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", false
	case <-timer.C:
		slog.Debug("[BLE] direct read timed out")
		return "", false
	case res := <-ch:
		if res.err != nil {
			return "", false
		}
		text := strings.TrimSpace(string(res.data))
		return text, text != ""
	}
}

// GetStatus returns a fresh status when the device is reachable and the
// last known snapshot when it is not. It never blocks indefinitely and
// never returns an error: unreachable simply means stale data.
func (c *Client) GetStatus(ctx context.Context) Status {
	if !c.IsConnected() {
		slog.Debug("[BLE] not connected, attempting reconnect before status read")
		c.Connect(ctx, 1, c.opts.ReconnectTimeout)
	}
	if !c.IsConnected() {
		return c.CachedStatus()
	}
	if err := c.refreshStatus(ctx); err != nil {
		slog.Warn("[BLE] status refresh failed, returning cached status", "error", err)
	}
	return c.CachedStatus()
}

// CachedStatus returns the last known status without touching the device.
func (c *Client) CachedStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.clone()
}

// refreshStatus runs the fixed four-read cycle: unit, run state, target
// temperature, current temperature. There is no combined query that reliably
// answers everything, and the device chokes on back-to-back commands, so the
// reads are spaced by a small delay. The unit is read first so the two
// temperature reads convert against fresh knowledge.
func (c *Client) refreshStatus(ctx context.Context) error {
	next := c.CachedStatus()
	answered := 0

	if reply, ok := c.execute(ctx, cmdReadUnit, c.opts.StatusPolicy); ok {
		next.Unit = decodeUnit(reply)
		answered++
	}
	if err := c.pause(ctx); err != nil {
		return err
	}

	if reply, ok := c.execute(ctx, cmdStatus, c.opts.StatusPolicy); ok {
		if running, informative := decodeRunning(reply); informative {
			next.Running = &running
		}
		if minutes, found := decodeTimer(reply); found {
			next.TimerMinutes = &minutes
		}
		answered++
	}
	if err := c.pause(ctx); err != nil {
		return err
	}

	if reply, ok := c.execute(ctx, cmdReadSetTemp, c.opts.StatusPolicy); ok {
		if raw, parsed := decodeTemperature(reply); parsed {
			v := normalizeTemperature(raw, next.Unit)
			next.TargetTemp = &v
		}
		answered++
	}
	if err := c.pause(ctx); err != nil {
		return err
	}

	if reply, ok := c.execute(ctx, cmdReadTemp, c.opts.StatusPolicy); ok {
		if raw, parsed := decodeTemperature(reply); parsed {
			v := normalizeTemperature(raw, next.Unit)
			next.CurrentTemp = &v
		}
		answered++
	}

	if answered == 0 {
		return errNoReply
	}

	// A drop mid-cycle means the data can't be trusted; keep the old cache.
	c.mu.Lock()
	if c.state == StateConnected {
		c.status = next
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.InterCommandDelay):
		return nil
	}
}

// SetTemperature sets the target temperature. The argument is Celsius; if
// the device currently reports Fahrenheit, the outbound value is converted
// so the device receives a number in its own unit.
func (c *Client) SetTemperature(ctx context.Context, celsius float64) bool {
	c.mu.Lock()
	unit := c.status.Unit
	c.mu.Unlock()
	value := celsius
	if unit == UnitFahrenheit {
		value = celsiusToFahrenheit(celsius)
	}
	return c.confirm(ctx, setTempCommand(value))
}

// SetTimer sets the cook timer in minutes.
func (c *Client) SetTimer(ctx context.Context, minutes int) bool {
	return c.confirm(ctx, setTimerCommand(minutes))
}

// Start starts the cooker.
func (c *Client) Start(ctx context.Context) bool {
	return c.confirm(ctx, cmdStart)
}

// Stop stops the cooker.
func (c *Client) Stop(ctx context.Context) bool {
	return c.confirm(ctx, cmdStop)
}

// SetUnit switches the device's display unit. Cached temperatures stay
// Celsius-normalized regardless.
func (c *Client) SetUnit(ctx context.Context, unit Unit) bool {
	if unit != UnitCelsius && unit != UnitFahrenheit {
		slog.Warn("[BLE] invalid unit", "unit", string(unit))
		return false
	}
	return c.confirm(ctx, setUnitCommand(unit))
}

// confirm sends a write command and applies the fire-and-confirm rule: a
// non-empty reply acknowledges it, after which a full refresh resynchronizes
// the cached state.
func (c *Client) confirm(ctx context.Context, command string) bool {
	reply, ok := c.execute(ctx, command, c.opts.AckPolicy)
	outcome := classifyAck(reply, ok)
	c.opts.Observer.CommandResult(outcome)
	if outcome != Acknowledged {
		slog.Warn("[BLE] command not acknowledged",
			"command", strings.TrimRight(command, "\r"), "outcome", outcome.String())
		return false
	}
	if err := c.refreshStatus(ctx); err != nil {
		slog.Debug("[BLE] post-command refresh failed", "error", err)
	}
	return true
}
