package dispatch

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iLukSbr/reliable-udp-transfer/internal/cliutil"
	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/reliability"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xferlog"
)

func startDispatcher(t *testing.T, storage string) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d, err := New("127.0.0.1", 0, storage, xferlog.Discard())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, cancel
}

func splitPort(t *testing.T, addr string) int {
	t.Helper()
	idx := strings.LastIndex(addr, ":")
	require.GreaterOrEqual(t, idx, 0)
	p, err := strconv.Atoi(addr[idx+1:])
	require.NoError(t, err)
	return p
}

func TestDispatcherUploadThenDownload(t *testing.T) {
	storage := t.TempDir()
	d, cancel := startDispatcher(t, storage)
	defer cancel()
	port := splitPort(t, d.Addr())

	data := make([]byte, 6000)
	_, _ = rand.Read(data)

	// Etapa de upload.
	pub, err := datagram.Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer pub.Close()

	initFrame := wire.EncodeInitiation(wire.Initiation{
		Role:     wire.RoleUpload,
		Protocol: wire.ProtocolStopAndWait,
		Filename: "greeting.bin",
		Filesize: int64(len(data)),
	})
	replyBytes, err := cliutil.DoHandshake(pub, initFrame)
	require.NoError(t, err)
	reply, err := wire.DecodeReply(replyBytes)
	require.NoError(t, err)
	require.True(t, reply.OK)

	sess, err := datagram.Dial("127.0.0.1", reply.Port)
	require.NoError(t, err)
	defer sess.Close()

	src, err := os.CreateTemp(t.TempDir(), "up-*.bin")
	require.NoError(t, err)
	_, err = src.Write(data)
	require.NoError(t, err)
	_, err = src.Seek(0, 0)
	require.NoError(t, err)

	ctx, uploadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer uploadCancel()
	engine := reliability.ForProtocol(wire.ProtocolStopAndWait)
	require.NoError(t, engine.Send(ctx, sess, nil, src, int64(len(data)), nil))

	written, err := os.ReadFile(filepath.Join(storage, "greeting.bin"))
	require.NoError(t, err)
	require.Equal(t, data, written)

	// Etapa de download: busca o arquivo que acabamos de enviar.
	pub2, err := datagram.Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer pub2.Close()

	dlFrame := wire.EncodeInitiation(wire.Initiation{
		Role:     wire.RoleDownload,
		Protocol: wire.ProtocolStopAndWait,
		Filename: "greeting.bin",
	})
	dlReplyBytes, err := cliutil.DoHandshake(pub2, dlFrame)
	require.NoError(t, err)
	dlReply, err := wire.DecodeReply(dlReplyBytes)
	require.NoError(t, err)
	require.True(t, dlReply.OK)
	require.Equal(t, int64(len(data)), dlReply.Filesize)

	dlSess, err := datagram.Dial("127.0.0.1", dlReply.Port)
	require.NoError(t, err)
	defer dlSess.Close()
	require.NoError(t, cliutil.DoSessionHandshake(dlSess))

	dst, err := os.CreateTemp(t.TempDir(), "down-*.bin")
	require.NoError(t, err)
	dlEngine := reliability.ForProtocol(wire.ProtocolStopAndWait)
	require.NoError(t, dlEngine.Receive(ctx, dlSess, nil, dst, dlReply.Filesize, nil))

	got, err := os.ReadFile(dst.Name())
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDispatcherDownloadFileNotFound(t *testing.T) {
	storage := t.TempDir()
	d, cancel := startDispatcher(t, storage)
	defer cancel()
	port := splitPort(t, d.Addr())

	pub, err := datagram.Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer pub.Close()

	frame := wire.EncodeInitiation(wire.Initiation{Role: wire.RoleDownload, Protocol: wire.ProtocolStopAndWait, Filename: "missing.bin"})
	replyBytes, err := cliutil.DoHandshake(pub, frame)
	require.NoError(t, err)
	reply, err := wire.DecodeReply(replyBytes)
	require.NoError(t, err)
	require.True(t, reply.NotFound)
}

func TestDispatcherListFiles(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storage, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "b.bin"), []byte("y"), 0644))

	d, cancel := startDispatcher(t, storage)
	defer cancel()
	port := splitPort(t, d.Addr())

	pub, err := datagram.Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer pub.Close()

	replyBytes, err := cliutil.DoHandshake(pub, wire.EncodeListRequest())
	require.NoError(t, err)
	names, err := wire.DecodeListReply(replyBytes)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "b.bin"}, names)
}
