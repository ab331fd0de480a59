package transport

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 10000),
	}

	for _, data := range cases {
		client, server := net.Pipe()
		errCh := make(chan error, 1)
		go func() { errCh <- writeFrame(client, data) }()

		got, err := readFrame(bufio.NewReader(server))
		require.NoError(t, err)
		assert.Equal(t, data, got)
		require.NoError(t, <-errCh)

		client.Close()
		server.Close()
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var hdr [4]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x7f, 0xff, 0xff, 0xff // far beyond maxFrameSize

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go client.Write(hdr[:])

	_, err := readFrame(bufio.NewReader(server))
	assert.Error(t, err)
}

func TestReadFrameErrorsOnTruncatedHeader(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go func() {
		client.Write([]byte{0, 0})
		client.Close()
	}()

	_, err := readFrame(bufio.NewReader(server))
	assert.Error(t, err)
}

func TestReadFrameErrorsOnTruncatedBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go func() {
		var hdr [4]byte
		hdr[3] = 10 // declares 10 bytes of body
		client.Write(hdr[:])
		client.Write([]byte("short"))
		client.Close()
	}()

	_, err := readFrame(bufio.NewReader(server))
	assert.Error(t, err)
}
