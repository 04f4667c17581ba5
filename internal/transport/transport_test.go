package transport

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	busy := &Error{Op: "connect", Code: CodeBusy}
	wrapped := fmt.Errorf("attempt 2: %w", busy)

	assert.True(t, IsTransient(wrapped))
	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeBusy, code)

	assert.True(t, IsTransient(&Error{Op: "connect", Code: CodeInternalError}))
	assert.False(t, IsTransient(&Error{Op: "connect", Code: CodeUnsupported}))
	assert.False(t, IsTransient(fmt.Errorf("plain")))
	assert.Equal(t, "connect failed: BUSY", busy.Error())
}

func TestFakeRepeatsLastScriptedValue(t *testing.T) {
	f := &Fake{ConnectErrs: []error{&Error{Op: "connect", Code: CodeBusy}, nil}}
	ctx := context.Background()

	assert.Error(t, f.Connect(ctx, "aa", 0))
	assert.NoError(t, f.Connect(ctx, "aa", 0))
	assert.NoError(t, f.Connect(ctx, "aa", 15))
	assert.Equal(t, []int{0, 0, 15}, f.Intents())

	info, err := f.LinkInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestLANConnectAndLinkInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	lan := NewLAN(port, nil)
	ctx := context.Background()

	// nothing to tear down yet
	assert.Error(t, lan.Disconnect(ctx))

	require.NoError(t, lan.Connect(ctx, "127.0.0.1", IntentSubordinate))
	info, err := lan.LinkInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Formed)
	assert.False(t, info.IsGroupOwner)
	assert.Equal(t, "127.0.0.1", info.OwnerAddress)

	require.NoError(t, lan.Disconnect(ctx))
	info, _ = lan.LinkInfo(ctx)
	assert.Nil(t, info)
}

func TestLANConnectRejectsNonIP(t *testing.T) {
	lan := NewLAN(8888, nil)
	err := lan.Connect(context.Background(), "aa:bb:cc:dd:ee:ff", 0)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnsupported, code)
}
