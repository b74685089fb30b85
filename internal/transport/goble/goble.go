// Package goble implements the transport contract on top of the
// go-ble/ble library. One Transport wraps one ble.Device; the platform
// device constructors live in the build-tagged files.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/zonelog/internal/transport"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = newPlatformDevice

// normalizeUUID converts a UUID string to the go-ble internal format
// (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// Transport adapts a ble.Device to the transport.Transport contract.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// New creates a go-ble backed transport. The underlying adapter is opened
// lazily on first use so that construction never touches hardware.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, transport.NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Scan reports advertisements until ctx is done.
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(&advertisement{adv: adv})
	})
	// A scan ended by its own context is a clean stop, not a failure.
	if err != nil && ctx.Err() == nil {
		return transport.NormalizeError(err)
	}
	return nil
}

// Connect dials addr and discovers its GATT profile.
func (t *Transport) Connect(ctx context.Context, addr string) (transport.Conn, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", addr).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, transport.NormalizeError(fmt.Errorf("failed to connect to device with address %q: %w", addr, err))
	}

	t.logger.WithField("address", addr).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, transport.NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}

	conn := &bleConn{
		client:       client,
		logger:       t.logger,
		chars:        make(map[string]*ble.Characteristic),
		disconnected: make(chan struct{}),
	}
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			conn.chars[normalizeUUID(char.UUID.String())] = char
		}
	}

	// Bridge the client's disconnect signal into the contract's channel.
	// The type assertion keeps this working on platforms whose client does
	// not surface the channel.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		go func() {
			<-dc.Disconnected()
			conn.markDisconnected()
		}()
	} else {
		t.logger.Debug("Client does not support Disconnected() channel")
	}

	return conn, nil
}

// bleConn adapts ble.Client to transport.Conn.
type bleConn struct {
	client ble.Client
	logger *logrus.Logger
	chars  map[string]*ble.Characteristic

	closeOnce    sync.Once
	disconnected chan struct{}
}

func (c *bleConn) characteristic(uuid string) (*ble.Characteristic, error) {
	char, ok := c.chars[normalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrCharacteristicNotFound, uuid)
	}
	return char, nil
}

func (c *bleConn) Subscribe(uuid string, handler func(data []byte)) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	return transport.NormalizeError(c.client.Subscribe(char, false, func(data []byte) {
		handler(data)
	}))
}

func (c *bleConn) WriteCommand(uuid string, data []byte) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	return transport.NormalizeError(c.client.WriteCharacteristic(char, data, false))
}

func (c *bleConn) Read(uuid string, timeout time.Duration) ([]byte, error) {
	char, err := c.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.client.ReadCharacteristic(char)
		done <- result{data, transport.NormalizeError(err)}
	}()
	select {
	case r := <-done:
		return r.data, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("read of %s timed out after %v", uuid, timeout)
	case <-c.disconnected:
		return nil, transport.ErrNotConnected
	}
}

func (c *bleConn) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *bleConn) markDisconnected() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

func (c *bleConn) Close() error {
	err := transport.NormalizeError(c.client.CancelConnection())
	c.markDisconnected()
	return err
}
