//go:build linux

// Package serial provides raw tty access for streaming meter reports to
// serial displays and data loggers.
package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/ttyAMA0)
	Device string

	// Baud rate (default: 115200)
	Baud int

	// Read timeout for individual operations (default: 5 seconds)
	ReadTimeout time.Duration

	// Assert RTS/DTR on open. Some serial displays only accept data
	// while DTR is raised.
	AssertRTS bool
	AssertDTR bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Baud:        115200,
		ReadTimeout: 5 * time.Second,
		AssertRTS:   true,
		AssertDTR:   true,
	}
}

// Port represents an open serial port. Write is safe for use as an
// io.Writer report target.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
}

// ListPorts returns a list of available serial port device paths.
func ListPorts() ([]string, error) {
	patterns := []string{
		"/dev/ttyUSB*",
		"/dev/ttyACM*",
		"/dev/ttyAMA*",
		"/dev/ttyS*",
		"/dev/serial/by-id/*",
	}

	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			// Resolve symlinks (especially for /dev/serial/by-id/)
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			found := false
			for _, p := range ports {
				if p == resolved {
					found = true
					break
				}
			}
			if !found {
				ports = append(ports, resolved)
			}
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// Open opens a serial port in raw 8N1 mode with the given configuration.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios

	// Input flags - disable all input processing
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY

	// Output flags - disable all output processing
	termios.Oflag &^= unix.OPOST

	// Control flags - 8N1
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Local flags - raw mode
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	// Baud rate. The kernel reads the rate from the CBAUD bits; BOTHER
	// selects the numeric rate in Ispeed/Ospeed instead.
	flag, arbitrary, err := baudFlag(cfg.Baud)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= flag
	if arbitrary {
		termios.Ispeed = uint32(cfg.Baud)
		termios.Ospeed = uint32(cfg.Baud)
	} else {
		termios.Ispeed = flag
		termios.Ospeed = flag
	}

	// Control characters
	termios.Cc[unix.VMIN] = 0  // Non-blocking read
	termios.Cc[unix.VTIME] = 1 // 100ms timeout per character

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	// Clear non-blocking flag after configuration
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	port := &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}

	port.setModemControl(cfg.AssertRTS, cfg.AssertDTR)

	return port, nil
}

// Read reads up to len(buf) bytes from the port.
// Returns the number of bytes read and any error.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	timeoutMs := int(timeout.Milliseconds())

	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // Interrupted, try again
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}

	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write writes buf to the port.
// Returns the number of bytes written and any error.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Close closes the serial port, restoring the original termios settings.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil {
		_ = unix.IoctlSetTermios(p.fd, unix.TCSETS, p.oldTermios)
	}

	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout sets the read timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// Flush discards any data in the input and output buffers.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}

// setModemControl sets RTS and DTR together. Errors are swallowed since
// many USB adapters and ptys have no modem lines.
func (p *Port) setModemControl(rts, dtr bool) {
	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return
	}

	if rts {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	if dtr {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}

	_ = unix.IoctlSetPointerInt(p.fd, unix.TIOCMSET, status)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	if on {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	return unix.IoctlSetPointerInt(p.fd, unix.TIOCMSET, status)
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	if on {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}
	return unix.IoctlSetPointerInt(p.fd, unix.TIOCMSET, status)
}

// baudFlag returns the CBAUD bits for a baud rate. Rates without a Bxxx
// constant fall back to BOTHER, which takes the numeric rate from the
// Ispeed/Ospeed termios fields.
func baudFlag(baud int) (uint32, bool, error) {
	speeds := map[int]uint32{
		50:      unix.B50,
		75:      unix.B75,
		110:     unix.B110,
		134:     unix.B134,
		150:     unix.B150,
		200:     unix.B200,
		300:     unix.B300,
		600:     unix.B600,
		1200:    unix.B1200,
		1800:    unix.B1800,
		2400:    unix.B2400,
		4800:    unix.B4800,
		9600:    unix.B9600,
		19200:   unix.B19200,
		38400:   unix.B38400,
		57600:   unix.B57600,
		115200:  unix.B115200,
		230400:  unix.B230400,
		460800:  unix.B460800,
		500000:  unix.B500000,
		576000:  unix.B576000,
		921600:  unix.B921600,
		1000000: unix.B1000000,
		1152000: unix.B1152000,
		1500000: unix.B1500000,
		2000000: unix.B2000000,
		2500000: unix.B2500000,
		3000000: unix.B3000000,
		3500000: unix.B3500000,
		4000000: unix.B4000000,
	}

	if speed, ok := speeds[baud]; ok {
		return speed, false, nil
	}
	if baud > 0 {
		return unix.BOTHER, true, nil
	}
	return 0, false, fmt.Errorf("serial: unsupported baud rate %d", baud)
}

// IsDeviceAvailable checks if a device path exists and is accessible.
func IsDeviceAvailable(device string) bool {
	info, err := os.Stat(device)
	if err != nil {
		return false
	}
	// Check if it's a character device
	if info.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	// Check if we can open it
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

// ResolveDevice resolves a device path, following symlinks.
func ResolveDevice(device string) (string, error) {
	// Handle by-id and by-path symlinks
	if strings.HasPrefix(device, "/dev/serial/") {
		resolved, err := filepath.EvalSymlinks(device)
		if err != nil {
			return "", fmt.Errorf("serial: resolve %s: %w", device, err)
		}
		return resolved, nil
	}
	return device, nil
}
