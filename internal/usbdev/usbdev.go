package usbdev

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// MockDeviceID is reported in mock mode instead of real hardware.
const MockDeviceID = "001:001"

// Default filesystem locations.
const (
	DefaultSysfsRoot = "/sys/bus/usb/devices"
	DefaultDevRoot   = "/dev/bus/usb"
)

// usbdevfsReset is USBDEVFS_RESET, _IO('U', 20).
const usbdevfsReset = 0x5514

// defaultSettleDelay lets the dongle re-enumerate after a reset.
const defaultSettleDelay = 500 * time.Millisecond

// ErrInvalidDeviceID is returned for IDs not in "bus:device" form.
var ErrInvalidDeviceID = errors.New("invalid USB device id")

// VendorProduct identifies a USB device model.
type VendorProduct struct {
	Vendor  string
	Product string
}

// RTLSDRDevices are the Realtek RTL2832U/RTL2838 dongles rtl_tcp supports.
var RTLSDRDevices = []VendorProduct{
	{Vendor: "0bda", Product: "2838"},
	{Vendor: "0bda", Product: "2832"},
}

// Logger defines the logging interface for the device manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager enumerates and resets RTL-SDR dongles.
type Manager struct {
	sysfsRoot string
	devRoot   string
	mock      bool
	settle    time.Duration
	logger    Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoots overrides the sysfs and /dev/bus/usb locations.
func WithRoots(sysfsRoot, devRoot string) Option {
	return func(m *Manager) {
		m.sysfsRoot = sysfsRoot
		m.devRoot = devRoot
	}
}

// WithSettleDelay overrides the pause after a reset.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.settle = d
	}
}

// New creates a Manager. In mock mode Find always returns MockDeviceID
// and Reset does nothing.
func New(mock bool, opts ...Option) *Manager {
	m := &Manager{
		sysfsRoot: DefaultSysfsRoot,
		devRoot:   DefaultDevRoot,
		mock:      mock,
		settle:    defaultSettleDelay,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Find returns the "bus:device" IDs of attached RTL-SDR dongles, sorted.
func (m *Manager) Find(ctx context.Context) ([]string, error) {
	if m.mock {
		return []string{MockDeviceID}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("listing USB devices: %w", err)
	}

	var found []string
	for _, e := range entries {
		dir := filepath.Join(m.sysfsRoot, e.Name())
		vendor, verr := readAttr(dir, "idVendor")
		product, perr := readAttr(dir, "idProduct")
		if verr != nil || perr != nil || !isRTLSDR(vendor, product) {
			continue
		}

		bus, berr := readNumAttr(dir, "busnum")
		dev, derr := readNumAttr(dir, "devnum")
		if berr != nil || derr != nil {
			m.logger.Warn("RTL-SDR device missing bus address", "path", dir)
			continue
		}

		id := FormatID(bus, dev)
		m.logger.Debug("found RTL-SDR device", "device", id, "vendor", vendor, "product", product)
		found = append(found, id)
	}

	sort.Strings(found)
	return found, nil
}

// Reset issues USBDEVFS_RESET on the device node for id.
//
// Write access to /dev/bus/usb/BBB/DDD is required, typically via a
// udev rule such as:
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="0bda", ATTR{idProduct}=="2838", MODE="0666"
func (m *Manager) Reset(ctx context.Context, id string) error {
	if m.mock {
		m.logger.Debug("USB reset skipped in mock mode", "device", id)
		return nil
	}

	bus, dev, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("USB reset cancelled: %w", err)
	}

	path := filepath.Join(m.devRoot, fmt.Sprintf("%03d", bus), fmt.Sprintf("%03d", dev))
	m.logger.Info("resetting USB device", "device", id, "path", path)

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.IoctlSetInt(fd, usbdevfsReset, 0); err != nil {
		return fmt.Errorf("resetting %s: %w", id, err)
	}

	m.logger.Info("USB device reset successful", "device", id)

	if m.settle > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("USB reset cancelled: %w", ctx.Err())
		case <-time.After(m.settle):
		}
	}
	return nil
}

// FormatID renders a bus and device number as "BBB:DDD".
func FormatID(bus, dev int) string {
	return fmt.Sprintf("%03d:%03d", bus, dev)
}

// ParseID parses a "BBB:DDD" device ID.
func ParseID(id string) (bus, dev int, err error) {
	b, d, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	bus, berr := strconv.Atoi(b)
	dev, derr := strconv.Atoi(d)
	if berr != nil || derr != nil || bus < 1 || dev < 1 || bus > 999 || dev > 999 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	return bus, dev, nil
}

func isRTLSDR(vendor, product string) bool {
	for _, vp := range RTLSDRDevices {
		if strings.EqualFold(vp.Vendor, vendor) && strings.EqualFold(vp.Product, product) {
			return true
		}
	}
	return false
}

func readAttr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readNumAttr(dir, name string) (int, error) {
	s, err := readAttr(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
