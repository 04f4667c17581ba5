package framing

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"p1","payload":"help"}`)
	frame, err := Encode(payload)
	require.NoError(t, err)
	assert.Len(t, frame, headerSize+len(payload))
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(frame[:4]))

	got, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameDetectsEveryBitFlip(t *testing.T) {
	payload := []byte("SOS from sector 7")
	frame, err := Encode(payload)
	require.NoError(t, err)

	for i := headerSize; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[i] ^= 1 << bit
			_, err := ReadFrame(bytes.NewReader(corrupt))
			require.ErrorIs(t, err, ErrChecksum, "byte %d bit %d", i, bit)
		}
	}
}

func TestEncodeRejectsBadSizes(t *testing.T) {
	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = Encode(make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = Encode(make([]byte, MaxPayload))
	assert.NoError(t, err)
}

func TestReadFrameRejectsDeclaredLength(t *testing.T) {
	for _, length := range []uint32{0, MaxPayload + 1, 2000000} {
		var hdr [headerSize]byte
		binary.BigEndian.PutUint32(hdr[:4], length)
		_, err := ReadFrame(bytes.NewReader(hdr[:]))
		assert.ErrorIs(t, err, ErrInvalidLength, "length %d", length)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	frame, err := Encode([]byte("hello"))
	require.NoError(t, err)
	_, err = ReadFrame(bytes.NewReader(frame[:len(frame)-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func startServer(t *testing.T, handler Handler) int {
	t.Helper()
	s := NewServer(0, handler)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s.Addr().(*net.TCPAddr).Port
}

func TestClientServerDelivery(t *testing.T) {
	received := make(chan []byte, 1)
	port := startServer(t, func(payload []byte, remote string) {
		received <- payload
	})

	payload := []byte(`{"id":"abc"}`)
	require.NoError(t, NewClient().Send(context.Background(), "127.0.0.1", port, payload))

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}
}

func TestServerNAKsCorruptFrame(t *testing.T) {
	called := make(chan struct{}, 1)
	port := startServer(t, func(payload []byte, remote string) {
		called <- struct{}{}
	})

	frame, err := Encode([]byte("payload"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0x01

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(frame)
	require.NoError(t, err)

	var resp [1]byte
	_, err = io.ReadFull(conn, resp[:])
	require.NoError(t, err)
	assert.Equal(t, NAK, resp[0])

	select {
	case <-called:
		t.Fatal("handler must not run for a corrupt frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServerNAKsOversizedDeclaration(t *testing.T) {
	port := startServer(t, nil)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:4], 2000000)
	_, err = conn.Write(hdr[:])
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp [1]byte
	_, err = io.ReadFull(conn, resp[:])
	require.NoError(t, err)
	assert.Equal(t, NAK, resp[0])

	// server closed without waiting for the declared bytes
	_, err = conn.Read(resp[:])
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientReportsNAK(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = ReadFrame(conn)
		_, _ = conn.Write([]byte{NAK})
	}()

	err = NewClient().Send(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, []byte("x"))
	assert.ErrorIs(t, err, ErrNAK)
}

func TestClientReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	hold := make(chan struct{})
	defer close(hold)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-hold
	}()

	c := &Client{DialTimeout: time.Second, ReadTimeout: 50 * time.Millisecond}
	err = c.Send(context.Background(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, []byte("x"))
	require.Error(t, err)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}
