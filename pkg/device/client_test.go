package device

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort feeds the client a scripted device response stream and records
// everything the client writes. An exhausted stream reads as a timeout,
// matching the serial port contract.
type fakePort struct {
	responses bytes.Buffer
	writes    bytes.Buffer
	closed    bool
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if p.responses.Len() == 0 {
		return 0, nil
	}
	return p.responses.Read(buf)
}

func (p *fakePort) Write(data []byte) (int, error) {
	return p.writes.Write(data)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func newFakeClient(responses ...[]byte) (*Client, *fakePort) {
	port := &fakePort{}
	for _, chunk := range responses {
		port.responses.Write(chunk)
	}
	return NewClient(port, 10*time.Millisecond), port
}

func u32le(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x00), checksum([]byte{}))
	assert.Equal(t, byte(0xFF), checksum([]byte{0x01}))
	assert.Equal(t, byte(0x00), checksum([]byte{0x80}, []byte{0x80}))
	assert.Equal(t, byte(0xFD), checksum([]byte{0x01, 0x01, 0x01}))
}

func TestPing(t *testing.T) {
	client, port := newFakeClient([]byte{respReady})

	require.NoError(t, client.Ping())
	assert.Equal(t, []byte{'\t'}, port.writes.Bytes())
}

func TestPingTimeout(t *testing.T) {
	client, _ := newFakeClient()

	require.ErrorIs(t, client.Ping(), ErrNotReady)
}

func TestPingWrongDevice(t *testing.T) {
	client, _ := newFakeClient([]byte{0x00})

	require.ErrorIs(t, client.Ping(), ErrNotReady)
}

func TestVersion(t *testing.T) {
	client, port := newFakeClient([]byte("StopAlert fw v1.2\n"), []byte{respReady})

	version, err := client.Version()
	require.NoError(t, err)
	assert.Equal(t, "StopAlert fw v1.2", version)
	assert.Equal(t, []byte("v\n"), port.writes.Bytes())
}

func TestInfo(t *testing.T) {
	client, port := newFakeClient(u32le(1_000_000), u32le(123_456), []byte{respReady})

	total, used, err := client.Info()
	require.NoError(t, err)
	assert.Equal(t, uint32(1_000_000), total)
	assert.Equal(t, uint32(123_456), used)
	assert.Equal(t, []byte("I\n"), port.writes.Bytes())
}

func TestList(t *testing.T) {
	client, port := newFakeClient(
		u32le(42), []byte("/networks\x00"),
		u32le(128), []byte("/4/stops\x00"),
		u32le(0xFFFFFFFF), []byte{0}, // terminator
		[]byte{respReady},
	)

	listing, err := client.List()
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Path: "/networks", Size: 42},
		{Path: "/4/stops", Size: 128},
	}, listing)
	assert.Equal(t, []byte("L\n"), port.writes.Bytes())
}

func TestReadFile(t *testing.T) {
	contents := []byte("hello device")
	size := u32le(uint32(len(contents)))

	client, port := newFakeClient(
		size, contents, []byte{checksum(size, contents)},
		[]byte{respReady},
	)

	got, err := client.ReadFile("/networks", uint32(len(contents)))
	require.NoError(t, err)
	assert.Equal(t, contents, got)
	assert.Equal(t, []byte("R:/networks\n"), port.writes.Bytes())
}

func TestReadFileNotFound(t *testing.T) {
	client, _ := newFakeClient(u32le(0xFFFFFFFF), []byte{respReady})

	_, err := client.ReadFile("/missing", 0)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestReadFileChecksumMismatch(t *testing.T) {
	contents := []byte("hello device")
	size := u32le(uint32(len(contents)))

	client, _ := newFakeClient(
		size, contents, []byte{0xAA}, // wrong checksum
		[]byte{respReady},
	)

	_, err := client.ReadFile("/networks", uint32(len(contents)))
	require.ErrorIs(t, err, ErrChecksum)
}

func TestReadFileShortRead(t *testing.T) {
	// device stalls mid-transfer and never recovers
	client, _ := newFakeClient(u32le(100), []byte("only this"))

	_, err := client.ReadFile("/networks", 100)
	require.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300) // two blocks: 256 + 44

	client, port := newFakeClient(
		append([]byte{respOK}, u32le(0)...), // file open
		append([]byte{respOK}, u32le(256)...),
		append([]byte{respOK}, u32le(300)...),
		[]byte{respReady},
	)

	require.NoError(t, client.WriteFile("/4/stops", bytes.NewReader(payload)))

	written := port.writes.Bytes()
	assert.True(t, bytes.HasPrefix(written, []byte("W:/4/stops\n")))

	// first block header right after the command
	block1 := written[len("W:/4/stops\n"):]
	assert.Equal(t, byte(0x42), block1[0])
	assert.Equal(t, byte(255), block1[1]) // 256 - 1
	assert.Equal(t, payload[:256], block1[2:258])
	assert.Equal(t, checksum(block1[0:2], payload[:256]), block1[258])

	block2 := block1[259:]
	assert.Equal(t, byte(0x42), block2[0])
	assert.Equal(t, byte(43), block2[1]) // 44 - 1
	assert.Equal(t, payload[256:], block2[2:46])

	// terminator byte ends the stream
	assert.Equal(t, byte(0x46), written[len(written)-1])
}

func TestWriteFileResendOnChecksum(t *testing.T) {
	payload := []byte("abc")

	client, port := newFakeClient(
		append([]byte{respOK}, u32le(0)...),
		append([]byte{respChecksum}, u32le(0)...), // reject once
		append([]byte{respOK}, u32le(3)...),
		[]byte{respReady},
	)

	require.NoError(t, client.WriteFile("/f", bytes.NewReader(payload)))

	// block must appear twice
	block := append([]byte{0x42, 2}, payload...)
	assert.Equal(t, 2, bytes.Count(port.writes.Bytes(), block))
}

func TestWriteFileUnopenable(t *testing.T) {
	client, _ := newFakeClient(append([]byte{respFail}, u32le(0)...))

	err := client.WriteFile("/f", bytes.NewReader([]byte("abc")))
	require.ErrorIs(t, err, ErrFileUnopenable)
}

func TestDeleteAll(t *testing.T) {
	client, port := newFakeClient([]byte{respOK, respReady})

	require.NoError(t, client.DeleteAll())
	assert.Equal(t, []byte("X:/\n"), port.writes.Bytes())
}

func TestDeleteAllFailed(t *testing.T) {
	client, _ := newFakeClient([]byte{respFail})

	require.Error(t, client.DeleteAll())
}

func TestReformat(t *testing.T) {
	client, port := newFakeClient([]byte{respConfirm, respOK, respReady})

	require.NoError(t, client.Reformat(50*time.Millisecond, 50*time.Millisecond))
	assert.Equal(t, []byte("Z\n"), port.writes.Bytes())
}

func TestReformatDeclined(t *testing.T) {
	client, _ := newFakeClient([]byte{respFail})

	require.ErrorIs(t, client.Reformat(50*time.Millisecond, 50*time.Millisecond), ErrDeclined)
}

func TestReformatTimeout(t *testing.T) {
	client, _ := newFakeClient()

	require.ErrorIs(t, client.Reformat(10*time.Millisecond, 10*time.Millisecond), ErrTimeout)
}
