//go:build linux

package serial

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Baud != 115200 {
		t.Errorf("default baud = %d, want 115200", cfg.Baud)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("default read timeout = %v, want 5s", cfg.ReadTimeout)
	}
	if !cfg.AssertRTS || !cfg.AssertDTR {
		t.Error("RTS and DTR should be asserted by default")
	}
}

func TestBaudFlag(t *testing.T) {
	tests := []struct {
		baud      int
		arbitrary bool
		wantErr   bool
	}{
		{9600, false, false},
		{115200, false, false},
		{230400, false, false},
		{4000000, false, false},
		{250000, true, false}, // no Bxxx constant, needs BOTHER
		{0, false, true},
		{-300, false, true},
	}

	for _, tt := range tests {
		flag, arbitrary, err := baudFlag(tt.baud)
		if tt.wantErr {
			if err == nil {
				t.Errorf("baudFlag(%d) should fail", tt.baud)
			}
			continue
		}
		if err != nil {
			t.Errorf("baudFlag(%d) failed: %v", tt.baud, err)
			continue
		}
		if arbitrary != tt.arbitrary {
			t.Errorf("baudFlag(%d) arbitrary = %v, want %v", tt.baud, arbitrary, tt.arbitrary)
		}
		if arbitrary && flag != unix.BOTHER {
			t.Errorf("baudFlag(%d) = %#x, want BOTHER", tt.baud, flag)
		}
		if !arbitrary && flag == 0 {
			t.Errorf("baudFlag(%d) returned zero flag", tt.baud)
		}
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open with empty device should fail")
	}

	_, err := Open(Config{Device: "/nonexistent/ttyUSB99"})
	if err == nil {
		t.Fatal("Open on missing device should fail")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPortClosed(t *testing.T) {
	p := &Port{closed: true}

	if _, err := p.Read(make([]byte, 8)); err != ErrClosed {
		t.Errorf("Read on closed port = %v, want ErrClosed", err)
	}
	if _, err := p.Write([]byte("x")); err != ErrClosed {
		t.Errorf("Write on closed port = %v, want ErrClosed", err)
	}
	if err := p.Flush(); err != ErrClosed {
		t.Errorf("Flush on closed port = %v, want ErrClosed", err)
	}
	// Close is idempotent
	if err := p.Close(); err != nil {
		t.Errorf("Close on closed port = %v, want nil", err)
	}
}

func TestResolveDevice(t *testing.T) {
	// Plain device paths pass through unchanged
	resolved, err := ResolveDevice("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("ResolveDevice failed: %v", err)
	}
	if resolved != "/dev/ttyUSB0" {
		t.Errorf("ResolveDevice = %s, want /dev/ttyUSB0", resolved)
	}
}

func TestIsDeviceAvailable(t *testing.T) {
	if IsDeviceAvailable("/nonexistent/ttyUSB99") {
		t.Error("missing device should not be available")
	}
	if IsDeviceAvailable("/etc/hostname") {
		t.Error("regular file should not be available")
	}
}

func TestListPorts(t *testing.T) {
	// May legitimately return an empty list on machines without serial
	// hardware; only the call itself must succeed.
	if _, err := ListPorts(); err != nil {
		t.Errorf("ListPorts failed: %v", err)
	}
}

// openPtyMaster allocates a pseudo terminal and returns the master fd
// and the slave device path.
func openPtyMaster(t *testing.T) (int, string) {
	t.Helper()

	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	if err := unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(master)
		t.Skipf("cannot unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		unix.Close(master)
		t.Skipf("cannot get pty number: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestOpenPtyRoundtrip(t *testing.T) {
	master, slave := openPtyMaster(t)
	defer unix.Close(master)

	port, err := Open(Config{Device: slave, Baud: 115200, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", slave, err)
	}
	defer port.Close()

	if port.Device() != slave {
		t.Errorf("Device() = %s, want %s", port.Device(), slave)
	}

	// Port to master: raw mode must pass the newline through untouched
	msg := []byte("pulses=3 freq=1.25Hz\n")
	n, err := port.Write(msg)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write wrote %d bytes, want %d", n, len(msg))
	}

	buf := make([]byte, 64)
	n, err = unix.Read(master, buf)
	if err != nil {
		t.Fatalf("master read failed: %v", err)
	}
	if got := string(buf[:n]); got != string(msg) {
		t.Errorf("master read %q, want %q", got, string(msg))
	}

	// Master to port
	if _, err := unix.Write(master, []byte("ok\n")); err != nil {
		t.Fatalf("master write failed: %v", err)
	}
	n, err = port.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "ok") {
		t.Errorf("Read got %q, want it to contain ok", string(buf[:n]))
	}
}

func TestReadTimeout(t *testing.T) {
	master, slave := openPtyMaster(t)
	defer unix.Close(master)

	port, err := Open(Config{Device: slave, Baud: 9600})
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", slave, err)
	}
	defer port.Close()

	port.SetReadTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err = port.Read(make([]byte, 8))
	if err != ErrTimeout {
		t.Errorf("Read on idle port = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read blocked %v, want ~50ms", elapsed)
	}
}
