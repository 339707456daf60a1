package pima

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/j-keck/arping"
	"go.bug.st/serial"
)

// Transport is a byte stream to the panel.
type Transport interface {
	io.Writer
	io.Closer

	// ReadTimeout reads into p, waiting at most timeout for data to arrive.
	// It returns 0, nil if nothing arrived in time.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// Opener opens a new Transport.
type Opener func(ctx context.Context) (Transport, error)

const (
	DefaultBaudRate = 2400
	writeTimeout    = 5 * time.Second
	serialByPath    = "/dev/serial/by-path"
)

// TCP returns an Opener connecting to the panel network adapter.
func TCP(host, port string) Opener {
	addr := net.JoinHostPort(host, port)
	return func(ctx context.Context) (Transport, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
		}
		return &connTransport{conn: conn}, nil
	}
}

type connTransport struct {
	conn net.Conn
}

func (t *connTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *connTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// Serial returns an Opener for a serial line at the given baud rate, 8N1.
func Serial(path string, baud int) Opener {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return func(context.Context) (Transport, error) {
		port, err := serial.Open(path, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", path, err)
		}
		return &serialTransport{port: port}, nil
	}
}

type serialTransport struct {
	port serial.Port
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return t.port.Read(p)
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}

// DetectSerialPort returns the first USB serial adapter it can find.
func DetectSerialPort() (string, error) {
	if entries, err := os.ReadDir(serialByPath); err == nil && len(entries) > 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return filepath.Join(serialByPath, names[0]), nil
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("could not list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found")
	}
	return ports[0], nil
}

// MacAddress resolves the hardware address of the panel network adapter.
func MacAddress(host string) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return "", fmt.Errorf("could not resolve %s: %w", host, err)
		}
		ip = ips[0]
	}
	hw, _, err := arping.Ping(ip)
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
