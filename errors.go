package pima

import "errors"

var (
	// ErrTransport means the byte stream to the panel could not be opened,
	// read or written. The session is dropped and reopened later.
	ErrTransport = errors.New("transport failure")

	// ErrChecksum means a frame failed its CRC check.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrFraming means no complete, well-formed frame was found within the
	// read budget.
	ErrFraming = errors.New("framing error")

	// ErrTimeout means the panel did not answer in time.
	ErrTimeout = errors.New("timed out waiting for the panel")

	// ErrAuthentication means the panel rejected the login code. It is
	// never retried automatically.
	ErrAuthentication = errors.New("panel rejected the login code")

	// ErrMalformedResponse means a frame was valid but its payload could not
	// be interpreted.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidArgument means the caller input was rejected before any
	// panel I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocol means corrupt frames kept arriving after all retries, or
	// the panel answered with something unexpected.
	ErrProtocol = errors.New("protocol error")

	// ErrConnection means the engine is disconnected from the panel and
	// could not (re)connect.
	ErrConnection = errors.New("not connected to the panel")

	// ErrEncoding means a frame could not be encoded.
	ErrEncoding = errors.New("could not encode frame")
)
