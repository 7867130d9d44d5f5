package session

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iLukSbr/reliable-udp-transfer/internal/cliutil"
	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/reliability"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xferlog"
)

func TestWorkerUploadRole(t *testing.T) {
	baseDir := t.TempDir()
	data := make([]byte, 4096)
	_, _ = rand.Read(data)

	pipe := datagram.NewMemPipe(nil, nil)
	spec := Spec{
		Peer:     pipe.B.LocalAddr(),
		Role:     RoleUpload,
		Protocol: wire.ProtocolStopAndWait,
		Filename: "payload.bin",
		Filesize: int64(len(data)),
		BaseDir:  baseDir,
	}
	w := New(spec, pipe.A, xferlog.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() { done <- w.Run(ctx) }()

	src, err := os.CreateTemp(t.TempDir(), "client-src-*.bin")
	require.NoError(t, err)
	_, err = src.Write(data)
	require.NoError(t, err)
	_, err = src.Seek(0, 0)
	require.NoError(t, err)

	clientEngine := reliability.ForProtocol(wire.ProtocolStopAndWait)
	require.NoError(t, clientEngine.Send(ctx, pipe.B, nil, src, int64(len(data)), nil))

	outcome := <-done
	require.True(t, outcome.Success)
	require.Equal(t, Closed, w.State())

	got, err := os.ReadFile(filepath.Join(baseDir, "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWorkerDownloadRole(t *testing.T) {
	baseDir := t.TempDir()
	data := make([]byte, 2048)
	_, _ = rand.Read(data)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "source.bin"), data, 0644))

	pipe := datagram.NewMemPipe(nil, nil)
	spec := Spec{
		Peer:     pipe.B.LocalAddr(),
		Role:     RoleDownload,
		Protocol: wire.ProtocolStopAndWait,
		Filename: "source.bin",
		Filesize: int64(len(data)),
		BaseDir:  baseDir,
	}
	w := New(spec, pipe.A, xferlog.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, cliutil.DoSessionHandshake(pipe.B))

	dst, err := os.CreateTemp(t.TempDir(), "client-dst-*.bin")
	require.NoError(t, err)
	clientEngine := reliability.ForProtocol(wire.ProtocolStopAndWait)
	require.NoError(t, clientEngine.Receive(ctx, pipe.B, nil, dst, int64(len(data)), nil))

	outcome := <-done
	require.True(t, outcome.Success)

	got, err := os.ReadFile(dst.Name())
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWorkerOpenFileMissingSourceFails(t *testing.T) {
	baseDir := t.TempDir()
	pipe := datagram.NewMemPipe(nil, nil)
	spec := Spec{
		Peer:     pipe.B.LocalAddr(),
		Role:     RoleDownload,
		Protocol: wire.ProtocolStopAndWait,
		Filename: "does-not-exist.bin",
		Filesize: 10,
		BaseDir:  baseDir,
	}
	w := New(spec, pipe.A, xferlog.Discard())
	outcome := w.Run(context.Background())
	require.False(t, outcome.Success)
	require.Error(t, outcome.Err)
}
