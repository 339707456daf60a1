package pima

import (
	"fmt"
	"time"
)

// A frame on the wire is:
//
//	[length] [module] [message] [channel] [address length] [address...] [data...] [crc hi] [crc lo]
//
// length counts the bytes between itself and the CRC. The CRC is a
// CRC-16/ARC over the length byte and the body.
const (
	frameOverhead = 3 // length + crc16
	minBodySize   = 4 // module + message + channel + address length
	maxBodySize   = 0xff
	minFrameSize  = frameOverhead + minBodySize
	maxFrameSize  = frameOverhead + maxBodySize
)

// Frame is a decoded panel frame.
type Frame struct {
	Module  byte
	Message Message
	Channel Channel
	Address []byte
	Data    []byte
}

// Encode builds the wire representation of f.
func Encode(f Frame) ([]byte, error) {
	size := minBodySize + len(f.Address) + len(f.Data)
	if size > maxBodySize {
		return nil, fmt.Errorf("%w: body has %d bytes, max is %d", ErrEncoding, size, maxBodySize)
	}
	buf := make([]byte, 0, size+frameOverhead)
	buf = append(buf, byte(size), f.Module, byte(f.Message), byte(f.Channel), byte(len(f.Address)))
	buf = append(buf, f.Address...)
	buf = append(buf, f.Data...)
	return append(buf, splitIntoOctets(int(crc16(buf)))...), nil
}

// Decode parses exactly one frame. The CRC is verified before anything
// else, so any corruption of a captured frame, including its length byte,
// is reported as ErrChecksum.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < minFrameSize {
		return Frame{}, fmt.Errorf("%w: frame too short: %d bytes", ErrFraming, len(raw))
	}
	body, sum := raw[:len(raw)-2], mergeOctets(raw[len(raw)-2:])
	if got := int(crc16(body)); got != sum {
		return Frame{}, fmt.Errorf("%w: got %04x, want %04x", ErrChecksum, sum, got)
	}
	size := int(raw[0])
	if size+frameOverhead != len(raw) {
		return Frame{}, fmt.Errorf("%w: length says %d bytes, frame has %d", ErrFraming, size+frameOverhead, len(raw))
	}
	addrLen := int(raw[4])
	if minBodySize+addrLen > size {
		return Frame{}, fmt.Errorf("%w: address length %d overflows body of %d bytes", ErrFraming, addrLen, size)
	}
	return Frame{
		Module:  raw[1],
		Message: Message(raw[2]),
		Channel: Channel(raw[3]),
		Address: cloneBytes(raw[5 : 5+addrLen]),
		Data:    cloneBytes(raw[5+addrLen : 1+size]),
	}, nil
}

func crc16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xa001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func splitIntoOctets(n int) []byte {
	return []byte{byte(n / 256), byte(n % 256)}
}

func mergeOctets(buf []byte) int {
	return int(buf[0])*256 + int(buf[1])
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

const maxDrainReads = 64

// frameReader pulls frames out of a Transport, skipping noise until it
// finds a plausible frame start: a sane length byte followed by the
// expected module id and a known message code.
type frameReader struct {
	t      Transport
	module byte
	budget int
	buf    []byte
	chunk  []byte
}

func newFrameReader(t Transport, module byte, budget int) *frameReader {
	return &frameReader{
		t:      t,
		module: module,
		budget: budget,
		chunk:  make([]byte, maxFrameSize),
	}
}

// next returns the next valid frame, reading until deadline.
//
// Nothing received at all is ErrTimeout. Bytes that never became a
// complete frame are ErrFraming, as is discarding more than the noise
// budget. A complete candidate failing its CRC is returned as ErrChecksum
// right away.
func (r *frameReader) next(deadline time.Time) (Frame, error) {
	received := len(r.buf) > 0
	discarded := 0
	for {
		frame, ok, skipped, err := r.scan()
		discarded += skipped
		if ok {
			return frame, nil
		}
		if err != nil {
			return Frame{}, err
		}
		if discarded > r.budget {
			return Frame{}, fmt.Errorf("%w: discarded %d bytes without finding a frame", ErrFraming, discarded)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			if !received {
				return Frame{}, ErrTimeout
			}
			return Frame{}, fmt.Errorf(
				"%w: no complete frame before deadline (%d bytes buffered, %d discarded)",
				ErrFraming, len(r.buf), discarded,
			)
		}

		n, err := r.t.ReadTimeout(r.chunk, wait)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: could not read: %w", ErrTransport, err)
		}
		if n > 0 {
			received = true
			r.buf = append(r.buf, r.chunk[:n]...)
		}
	}
}

func (r *frameReader) scan() (frame Frame, ok bool, skipped int, err error) {
	for len(r.buf) > 0 {
		if !r.plausible() {
			r.buf = r.buf[1:]
			skipped++
			continue
		}
		size := int(r.buf[0]) + frameOverhead
		if len(r.buf) < size {
			return frame, false, skipped, nil
		}
		frame, err = Decode(r.buf[:size])
		if err != nil {
			r.buf = r.buf[1:]
			return Frame{}, false, skipped + 1, err
		}
		r.buf = r.buf[size:]
		return frame, true, skipped, nil
	}
	return frame, false, skipped, nil
}

func (r *frameReader) plausible() bool {
	b := r.buf
	if int(b[0]) < minBodySize {
		return false
	}
	if len(b) > 1 && b[1] != r.module {
		return false
	}
	if len(b) > 2 && !Message(b[2]).valid() {
		return false
	}
	return true
}

// drain throws away anything buffered or already waiting on the wire,
// such as the late reply to a request that timed out.
func (r *frameReader) drain(wait time.Duration) (int, error) {
	stale := len(r.buf)
	r.buf = r.buf[:0]
	for i := 0; i < maxDrainReads; i++ {
		n, err := r.t.ReadTimeout(r.chunk, wait)
		if err != nil {
			return stale, fmt.Errorf("%w: could not drain: %w", ErrTransport, err)
		}
		if n == 0 {
			break
		}
		stale += n
	}
	return stale, nil
}
