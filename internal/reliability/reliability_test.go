package reliability

import (
	"context"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
)

func tightParams(base Params) Params {
	base.TStart = 5 * time.Millisecond
	base.TMin = 5 * time.Millisecond
	base.TMax = 80 * time.Millisecond
	base.IdleRecv = 2 * time.Second
	base.Drain = 50 * time.Millisecond
	return base
}

func tempFileWith(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "src-*.bin")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func tempFileEmpty(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dst-*.bin")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func runTransfer(t *testing.T, engine Engine, data []byte, aLoss, bLoss datagram.LossPolicy) []byte {
	t.Helper()
	pipe := datagram.NewMemPipe(aLoss, bLoss)
	src := tempFileWith(t, data)
	dst := tempFileEmpty(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Send(ctx, pipe.A, nil, src, int64(len(data)), nil)
	}()

	err := engine.Receive(ctx, pipe.B, nil, dst, int64(len(data)), nil)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	got, err := os.ReadFile(dst.Name())
	require.NoError(t, err)
	return got
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func TestStopAndWaitZeroByteFile(t *testing.T) {
	engine := NewStopAndWait(tightParams(DefaultStopAndWaitParams()))
	got := runTransfer(t, engine, nil, nil, nil)
	require.Empty(t, got)
}

func TestStopAndWaitNoLoss(t *testing.T) {
	data := randomBytes(5000)
	engine := NewStopAndWait(tightParams(DefaultStopAndWaitParams()))
	got := runTransfer(t, engine, data, nil, nil)
	require.Equal(t, data, got)
}

func TestStopAndWaitWithLoss(t *testing.T) {
	data := randomBytes(8000)
	engine := NewStopAndWait(tightParams(DefaultStopAndWaitParams()))
	aLoss := datagram.NewRandomLoss(0.2, 1)
	bLoss := datagram.NewRandomLoss(0.2, 2)
	got := runTransfer(t, engine, data, aLoss, bLoss)
	require.Equal(t, data, got)
}

func TestSelectiveRepeatZeroByteFile(t *testing.T) {
	engine := NewSelectiveRepeat(tightParams(DefaultSelectiveRepeatParams()))
	got := runTransfer(t, engine, nil, nil, nil)
	require.Empty(t, got)
}

func TestSelectiveRepeatNoLoss(t *testing.T) {
	data := randomBytes(40000) // spans 40 MSS-sized frames, more than one window of 32
	engine := NewSelectiveRepeat(tightParams(DefaultSelectiveRepeatParams()))
	got := runTransfer(t, engine, data, nil, nil)
	require.Equal(t, data, got)
}

func TestSelectiveRepeatWithLoss(t *testing.T) {
	data := randomBytes(40000)
	engine := NewSelectiveRepeat(tightParams(DefaultSelectiveRepeatParams()))
	aLoss := datagram.NewRandomLoss(0.15, 3)
	bLoss := datagram.NewRandomLoss(0.15, 4)
	got := runTransfer(t, engine, data, aLoss, bLoss)
	require.Equal(t, data, got)
}

func TestStopAndWaitRetryExhausted(t *testing.T) {
	params := tightParams(DefaultStopAndWaitParams())
	params.MaxRetries = 2
	engine := NewStopAndWait(params)

	pipe := datagram.NewMemPipe(nil, nil) // no receiver is ever started, so no ACK ever arrives
	src := tempFileWith(t, randomBytes(10))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := engine.Send(ctx, pipe.A, nil, src, 10, nil)
	require.Error(t, err)
}
