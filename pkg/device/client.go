// Package device speaks the stop alert device's serial line protocol.
package device

import (
	"encoding/binary"
	stderr "errors"
	"fmt"
	"io"
	"time"

	"github.com/gsmcwhirter/go-util/v7/errors"
	"go.bug.st/serial"

	logger "github.com/itsmevjnk/StopAlert-companion/log"
)

var log = logger.Get().WithField("prefix", "DEVICE")

// protocol response bytes
const (
	respReady    = 0x3E // '>' prompt, device ready for a command
	respOK       = 0x40
	respFail     = 0x58
	respChecksum = 0x21 // block checksum mismatch, resend
	respConfirm  = 0x2E // user confirmed reformat
)

// special sizes returned by the file read command
const (
	sizeNotFound   = 0xFFFFFFFF
	sizeUnopenable = 0xFFFFFFFE
	sizeBadMode    = 0xFFFFFFFD
)

const blockSize = 256

var (
	ErrTimeout        = errors.New("timed out waiting for device")
	ErrNotReady       = errors.New("device did not report ready")
	ErrUnexpected     = errors.New("unexpected response from device")
	ErrFileNotFound   = errors.New("file does not exist on device")
	ErrFileUnopenable = errors.New("file cannot be opened on device")
	ErrShortRead      = errors.New("incomplete data reception")
	ErrChecksum       = errors.New("checksum verification failed")
	ErrDeclined       = errors.New("reformat request declined")
)

// Port is the serial connection surface the client needs. go.bug.st's
// serial.Port satisfies it; reads must return (0, nil) on timeout.
type Port interface {
	io.ReadWriteCloser
}

// Client drives one serial session with the device.
type Client struct {
	port    Port
	timeout time.Duration
}

// Open connects to the device on the named serial port.
func Open(portName string, baud int, timeout time.Duration) (*Client, error) {
	log.Infof("Opening serial communication on %s at %d bps.", portName, baud)

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrap(err, "could not open serial port", "port", portName)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		cerr := port.Close()
		if cerr != nil {
			log.Warnf("Could not close serial port: %v", cerr)
		}
		return nil, errors.Wrap(err, "could not set read timeout", "port", portName)
	}

	return NewClient(port, timeout), nil
}

// NewClient wraps an already open port.
func NewClient(port Port, timeout time.Duration) *Client {
	return &Client{port: port, timeout: timeout}
}

func (c *Client) Close() error {
	log.Info("Closing serial communication.")
	return c.port.Close()
}

// readByte reads one byte, treating a zero-length read as a timeout.
func (c *Client) readByte() (byte, error) {
	var buf [1]byte
	n, err := c.port.Read(buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "serial read failed")
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// readByteWithin keeps polling past the port timeout until the deadline
// passes; user interaction on the device can take a while.
func (c *Client) readByteWithin(d time.Duration) (byte, error) {
	deadline := time.Now().Add(d + c.timeout) // margin for the final poll
	for time.Now().Before(deadline) {
		b, err := c.readByte()
		if stderr.Is(err, ErrTimeout) {
			continue
		}
		return b, err
	}
	return 0, ErrTimeout
}

// readFull fills buf, treating a zero-length read as a timeout. The
// number of bytes actually read is returned alongside any error.
func (c *Client) readFull(buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := c.port.Read(buf[got:])
		if err != nil {
			return got, errors.Wrap(err, "serial read failed")
		}
		if n == 0 {
			return got, ErrTimeout
		}
		got += n
	}
	return got, nil
}

// readUntil reads bytes up to and including delim, returning everything
// before it.
func (c *Client) readUntil(delim byte) ([]byte, error) {
	var data []byte
	for {
		b, err := c.readByte()
		if err != nil {
			return data, err
		}
		if b == delim {
			return data, nil
		}
		data = append(data, b)
	}
}

func (c *Client) read32() (uint32, []byte, error) {
	buf := make([]byte, 4)
	if n, err := c.readFull(buf); err != nil {
		return 0, nil, errors.Wrap(err, "incomplete data read", "expected", "4", "got", fmt.Sprintf("%d", n))
	}
	return binary.LittleEndian.Uint32(buf), buf, nil
}

func (c *Client) write(data []byte) error {
	if _, err := c.port.Write(data); err != nil {
		return errors.Wrap(err, "serial write failed")
	}
	return nil
}

// checksum is the two's complement of the byte sum, low 8 bits.
func checksum(arrays ...[]byte) byte {
	sum := 0
	for _, array := range arrays {
		for _, b := range array {
			sum += int(b)
		}
	}
	return byte((0x100 - (sum & 0xFF)) & 0xFF)
}

// waitReady consumes the device's ready prompt.
func (c *Client) waitReady() error {
	b, err := c.readByte()
	if stderr.Is(err, ErrTimeout) {
		return errors.Wrap(ErrNotReady, "timed out; check the selected device and baud rate")
	}
	if err != nil {
		return err
	}
	if b != respReady {
		return errors.Wrap(ErrNotReady, "invalid response; check the selected device and baud rate", "response", fmt.Sprintf("0x%02X", b))
	}
	return nil
}

// Ping aborts any input in progress on the device and verifies it
// responds with its ready prompt.
func (c *Client) Ping() error {
	if err := c.write([]byte{'\t'}); err != nil {
		return err
	}
	return c.waitReady()
}

// Version reads the device firmware information string.
func (c *Client) Version() (string, error) {
	if err := c.write([]byte("v\n")); err != nil {
		return "", err
	}
	line, err := c.readUntil('\n')
	if err != nil {
		return "", errors.Wrap(err, "could not read firmware info")
	}
	if err := c.waitReady(); err != nil {
		return "", err
	}
	return string(line), nil
}

// Info reports the device file system's total and used sizes in bytes.
func (c *Client) Info() (total, used uint32, err error) {
	if err := c.write([]byte("I\n")); err != nil {
		return 0, 0, err
	}
	if total, _, err = c.read32(); err != nil {
		return 0, 0, err
	}
	if used, _, err = c.read32(); err != nil {
		return 0, 0, err
	}
	return total, used, c.waitReady()
}

// Entry is one file in the device file system listing.
type Entry struct {
	Path string
	Size uint32
}

// List retrieves the device file system listing.
func (c *Client) List() ([]Entry, error) {
	if err := c.write([]byte("L\n")); err != nil {
		return nil, err
	}

	var listing []Entry
	for {
		size, _, err := c.read32()
		if err != nil {
			return nil, err
		}
		path, err := c.readUntil(0)
		if err != nil {
			return nil, errors.Wrap(err, "could not read listing path")
		}
		if size == sizeNotFound && len(path) == 0 {
			break
		}
		listing = append(listing, Entry{Path: string(path), Size: size})
	}

	if err := c.waitReady(); err != nil {
		return nil, err
	}
	return listing, nil
}

// ReadFile retrieves one file's contents. expected is the size from a
// prior listing; a mismatch is only warned about. Errors matching
// ErrFileNotFound, ErrFileUnopenable, ErrShortRead or ErrChecksum leave
// the session in a ready state so the caller can skip the file.
func (c *Client) ReadFile(path string, expected uint32) ([]byte, error) {
	if err := c.write([]byte("R:" + path + "\n")); err != nil {
		return nil, err
	}

	size, sizeBytes, err := c.read32()
	if err != nil {
		return nil, err
	}
	switch size {
	case sizeNotFound:
		return nil, c.skip(errors.Wrap(ErrFileNotFound, "skipping", "path", path))
	case sizeUnopenable, sizeBadMode:
		return nil, c.skip(errors.Wrap(ErrFileUnopenable, "skipping", "path", path))
	}
	if size != expected {
		log.Warnf("File size changed from %d to %d", expected, size)
	}

	start := time.Now()
	contents := make([]byte, size)
	got, err := c.readFull(contents)
	if err != nil {
		if stderr.Is(err, ErrTimeout) {
			return nil, c.skip(errors.Wrap(ErrShortRead, "consider changing the timeout duration", "path", path, "expected", fmt.Sprintf("%d", size), "got", fmt.Sprintf("%d", got)))
		}
		return nil, err
	}
	sum, err := c.readByte()
	if err != nil {
		return nil, errors.Wrap(err, "could not read checksum", "path", path)
	}
	log.Debugf("Retrieved %d bytes, checksum: 0x%02X (in %.2f sec)", len(contents), sum, time.Since(start).Seconds())

	if checksum(sizeBytes, contents) != sum {
		return nil, c.skip(errors.Wrap(ErrChecksum, "discarding", "path", path))
	}

	if err := c.waitReady(); err != nil {
		return nil, err
	}
	return contents, nil
}

// skip re-synchronizes the session after a per-file failure.
func (c *Client) skip(cause error) error {
	if err := c.waitReady(); err != nil {
		return err
	}
	return cause
}

// WriteFile streams r into a file on the device in checksummed blocks.
// An ErrFileUnopenable return leaves the session ready so the caller can
// move on to the next file.
func (c *Client) WriteFile(path string, r io.Reader) error {
	if err := c.write([]byte("W:" + path + "\n")); err != nil {
		return err
	}

	resp := make([]byte, 5)
	if _, err := c.readFull(resp); err != nil {
		return errors.Wrap(err, "timed out waiting for device to create file", "path", path)
	}
	switch resp[0] {
	case respFail:
		return errors.Wrap(ErrFileUnopenable, "skipping", "path", path)
	case respOK:
	default:
		return errors.Wrap(ErrUnexpected, "file write command", "response", fmt.Sprintf("0x%02X", resp[0]))
	}

	block := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(r, block)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return errors.Wrap(err, "could not read local file", "path", path)
		}

		if err := c.writeBlock(path, block[:n]); err != nil {
			return err
		}

		if n < blockSize {
			break
		}
	}
	log.Debug("File transmission complete.")

	if err := c.write([]byte{0x46}); err != nil {
		return err
	}
	return c.waitReady()
}

// writeBlock sends one data block, resending on checksum failures.
func (c *Client) writeBlock(path string, block []byte) error {
	header := []byte{0x42, byte(len(block) - 1)}
	sum := checksum(header, block)

	for {
		if err := c.write(header); err != nil {
			return err
		}
		if err := c.write(block); err != nil {
			return err
		}
		if err := c.write([]byte{sum}); err != nil {
			return err
		}

		result, err := c.readByte()
		if stderr.Is(err, ErrTimeout) {
			return errors.Wrap(ErrTimeout, "waiting for device to write", "path", path)
		}
		if err != nil {
			return err
		}
		offset, _, err := c.read32()
		if err != nil {
			return err
		}

		switch result {
		case respChecksum:
			log.Error("Checksum validation failure - resending data.")
			continue
		case respFail:
			return errors.Wrap(ErrUnexpected, "unable to write data", "path", path, "offset", fmt.Sprintf("%d", offset))
		case respOK:
			log.Debugf("Successfully written %d bytes to %s (new offset: %d).", len(block), path, offset)
			return nil
		default:
			return errors.Wrap(ErrUnexpected, "data block writing", "response", fmt.Sprintf("0x%02X", result))
		}
	}
}

// DeleteAll removes every file from the device file system.
func (c *Client) DeleteAll() error {
	log.Info("Removing all files from file system.")
	if err := c.write([]byte("X:/\n")); err != nil {
		return err
	}

	result, err := c.readByte()
	if err != nil {
		return err
	}
	switch result {
	case respFail:
		return errors.New("directory deletion failed")
	case respOK:
		return c.waitReady()
	default:
		return errors.Wrap(ErrUnexpected, "directory deletion", "response", fmt.Sprintf("0x%02X", result))
	}
}

// Reformat asks the device to reformat its file system. The user has to
// confirm the request on the device itself; reqTimeout bounds that wait
// and fmtTimeout bounds the reformat operation. ErrDeclined is returned
// when the user (or the device's own timeout) rejects the request.
func (c *Client) Reformat(reqTimeout, fmtTimeout time.Duration) error {
	log.Info("Please check the device for notification and confirm reformat request.")
	if err := c.write([]byte("Z\n")); err != nil {
		return err
	}

	decision, err := c.readByteWithin(reqTimeout)
	if stderr.Is(err, ErrTimeout) {
		return errors.Wrap(ErrTimeout, "waiting for device to transmit user decision")
	}
	if err != nil {
		return err
	}
	switch decision {
	case respFail:
		return ErrDeclined
	case respConfirm:
	default:
		return errors.Wrap(ErrUnexpected, "user decision", "response", fmt.Sprintf("0x%02X", decision))
	}

	log.Info("Reformatting device - please wait.")
	result, err := c.readByteWithin(fmtTimeout)
	if stderr.Is(err, ErrTimeout) {
		return errors.Wrap(ErrTimeout, "waiting for device to finish reformatting")
	}
	if err != nil {
		return err
	}
	switch result {
	case respFail:
		return errors.New("device reformat failed")
	case respOK:
		return c.waitReady()
	default:
		return errors.Wrap(ErrUnexpected, "reformatting result", "response", fmt.Sprintf("0x%02X", result))
	}
}
