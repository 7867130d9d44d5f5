package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeData(t *testing.T) {
	f := DataFrame{Seq: 42, Payload: []byte("hello world")}
	got, err := DecodeData(EncodeData(f))
	require.NoError(t, err)
	assert.Equal(t, f.Seq, got.Seq)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestEncodeDecodeDataEmptyPayload(t *testing.T) {
	f := DataFrame{Seq: 0, Payload: nil}
	got, err := DecodeData(EncodeData(f))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Seq)
	assert.Empty(t, got.Payload)
}

func TestDecodeDataMalformed(t *testing.T) {
	_, err := DecodeData([]byte("no-colon-here"))
	assert.Error(t, err)

	_, err = DecodeData([]byte("abc:payload"))
	assert.Error(t, err)
}

func TestEncodeDecodeAck(t *testing.T) {
	got, err := DecodeAck(EncodeAck(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
}

func TestDecodeAckMalformed(t *testing.T) {
	_, err := DecodeAck([]byte("NOTANACK:1"))
	assert.Error(t, err)
	_, err = DecodeAck([]byte("ACK:x"))
	assert.Error(t, err)
}

func TestIsAck(t *testing.T) {
	assert.True(t, IsAck(EncodeAck(3)))
	assert.False(t, IsAck(EncodeData(DataFrame{Seq: 3, Payload: []byte("x")})))
}

func TestEncodeDecodeInitiationUpload(t *testing.T) {
	in := Initiation{Role: RoleUpload, Protocol: ProtocolStopAndWait, Filename: "report.pdf", Filesize: 1234}
	got, err := DecodeInitiation(EncodeInitiation(in))
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestEncodeDecodeInitiationDownload(t *testing.T) {
	in := Initiation{Role: RoleDownload, Protocol: ProtocolSelectiveRepeat, Filename: "archive.tar"}
	got, err := DecodeInitiation(EncodeInitiation(in))
	require.NoError(t, err)
	assert.Equal(t, RoleDownload, got.Role)
	assert.Equal(t, ProtocolSelectiveRepeat, got.Protocol)
	assert.Equal(t, "archive.tar", got.Filename)
	assert.Equal(t, int64(-1), got.Filesize)
}

func TestDecodeInitiationUnknown(t *testing.T) {
	_, err := DecodeInitiation([]byte("GARBAGE"))
	assert.Error(t, err)
}

func TestDecodeInitiationNegativeFilesize(t *testing.T) {
	_, err := DecodeInitiation([]byte("UPLOAD_CLIENT:stop-and-wait:f.bin:-1"))
	assert.Error(t, err)
}

func TestEncodeDecodeReplyUploadOK(t *testing.T) {
	got, err := DecodeReply(EncodeUploadOK(40000))
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, 40000, got.Port)
}

func TestEncodeDecodeReplyDownloadOK(t *testing.T) {
	got, err := DecodeReply(EncodeDownloadOK(40001, 9999))
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, 40001, got.Port)
	assert.Equal(t, int64(9999), got.Filesize)
}

func TestEncodeDecodeReplyFileNotFound(t *testing.T) {
	got, err := DecodeReply(EncodeFileNotFound())
	require.NoError(t, err)
	assert.True(t, got.NotFound)
	assert.False(t, got.OK)
}

func TestValidProtocol(t *testing.T) {
	assert.True(t, ValidProtocol(ProtocolStopAndWait))
	assert.True(t, ValidProtocol(ProtocolSelectiveRepeat))
	assert.False(t, ValidProtocol("go-back-n"))
}

func TestListRequestReply(t *testing.T) {
	assert.True(t, IsListRequest(EncodeListRequest()))
	assert.False(t, IsListRequest([]byte("LISTX")))

	names, err := DecodeListReply(EncodeListReply([]string{"a.txt", "b.bin"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.bin"}, names)

	empty, err := DecodeListReply(EncodeListReply(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
