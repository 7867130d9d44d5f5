// Package wire serializa e interpreta os frames de rede do motor de
// confiabilidade: o frame de dados sequenciado, o ACK, e as mensagens de
// handshake que demultiplexam clientes para endpoints privados de sessão.
//
// Todos os frames cabem em um único datagrama; não há fragmentação acima do
// transporte. Cabeçalhos são texto ASCII; o payload de um frame de dados é
// tratado como bytes opacos — o parse só decodifica até o primeiro ':'.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// Nomes aceitos para o campo de protocolo do handshake (case-sensitive).
const (
	ProtocolStopAndWait    = "stop-and-wait"
	ProtocolSelectiveRepeat = "selective-repeat"
)

// ValidProtocol reporta se name é um dos dois protocolos de recuperação aceitos.
func ValidProtocol(name string) bool {
	return name == ProtocolStopAndWait || name == ProtocolSelectiveRepeat
}

const ackPrefix = "ACK:"

// DataFrame é um segmento de dados sequenciado: "<seq>:<payload>".
type DataFrame struct {
	Seq     uint64
	Payload []byte
}

// EncodeData serializa um DataFrame no formato de rede.
func EncodeData(f DataFrame) []byte {
	head := strconv.FormatUint(f.Seq, 10) + ":"
	buf := make([]byte, 0, len(head)+len(f.Payload))
	buf = append(buf, head...)
	buf = append(buf, f.Payload...)
	return buf
}

// DecodeData interpreta um datagrama como frame de dados. Frames malformados
// (sem ':', prefixo não decimal) retornam um erro KindParse; o chamador deve
// descartá-los silenciosamente, conforme §4.1 da especificação.
func DecodeData(b []byte) (DataFrame, error) {
	idx := bytes.IndexByte(b, ':')
	if idx < 0 {
		return DataFrame{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeData", fmt.Errorf("sem separador ':'"))
	}
	seq, err := strconv.ParseUint(string(b[:idx]), 10, 64)
	if err != nil {
		return DataFrame{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeData", err)
	}
	payload := b[idx+1:]
	out := make([]byte, len(payload))
	copy(out, payload)
	return DataFrame{Seq: seq, Payload: out}, nil
}

// EncodeAck serializa um ACK para a sequência s.
func EncodeAck(s uint64) []byte {
	return []byte(ackPrefix + strconv.FormatUint(s, 10))
}

// DecodeAck interpreta um datagrama como ACK. Retorna KindParse se malformado.
func DecodeAck(b []byte) (uint64, error) {
	s := string(b)
	if !strings.HasPrefix(s, ackPrefix) {
		return 0, xfererrors.New(xfererrors.KindParse, "wire.DecodeAck", fmt.Errorf("prefixo ACK ausente"))
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(s[len(ackPrefix):]), 10, 64)
	if err != nil {
		return 0, xfererrors.New(xfererrors.KindParse, "wire.DecodeAck", err)
	}
	return seq, nil
}

// IsAck reporta se b parece um frame ACK (só verifica o prefixo "ACK:").
func IsAck(b []byte) bool { return bytes.HasPrefix(b, []byte(ackPrefix)) }

// Role identifica o papel declarado numa iniciação de handshake.
type Role int

const (
	RoleUpload Role = iota
	RoleDownload
)

// Initiation é a mensagem cliente->dispatcher que abre uma sessão.
type Initiation struct {
	Role     Role
	Protocol string
	Filename string
	Filesize int64 // só significativo para upload; -1 para download
}

const (
	uploadPrefix   = "UPLOAD_CLIENT:"
	downloadPrefix = "DOWNLOAD_CLIENT:"
)

// EncodeInitiation serializa uma iniciação de handshake.
func EncodeInitiation(in Initiation) []byte {
	switch in.Role {
	case RoleUpload:
		return []byte(fmt.Sprintf("%s%s:%s:%d", uploadPrefix, in.Protocol, in.Filename, in.Filesize))
	default:
		return []byte(fmt.Sprintf("%s%s:%s", downloadPrefix, in.Protocol, in.Filename))
	}
}

// DecodeInitiation interpreta uma mensagem de iniciação. Qualquer outro
// conteúdo retorna KindParse; o dispatcher deve registrar e ignorar.
func DecodeInitiation(b []byte) (Initiation, error) {
	s := string(b)
	switch {
	case strings.HasPrefix(s, uploadPrefix):
		rest := s[len(uploadPrefix):]
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 {
			return Initiation{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeInitiation", fmt.Errorf("UPLOAD_CLIENT malformado"))
		}
		size, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || size < 0 {
			return Initiation{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeInitiation", fmt.Errorf("filesize inválido"))
		}
		return Initiation{Role: RoleUpload, Protocol: parts[0], Filename: parts[1], Filesize: size}, nil
	case strings.HasPrefix(s, downloadPrefix):
		rest := s[len(downloadPrefix):]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return Initiation{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeInitiation", fmt.Errorf("DOWNLOAD_CLIENT malformado"))
		}
		return Initiation{Role: RoleDownload, Protocol: parts[0], Filename: parts[1], Filesize: -1}, nil
	default:
		return Initiation{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeInitiation", fmt.Errorf("iniciação desconhecida"))
	}
}

// Reply é a mensagem dispatcher->cliente que confirma (ou recusa) a sessão.
type Reply struct {
	OK       bool
	Port     int
	Filesize int64 // só para download OK
	NotFound bool
}

const (
	uploadOKPrefix   = "UPLOAD_OK:"
	downloadOKPrefix = "DOWNLOAD_OK:"
	errFileNotFound  = "ERROR:FileNotFound"
)

// EncodeUploadOK serializa a confirmação de upload.
func EncodeUploadOK(port int) []byte { return []byte(fmt.Sprintf("%s%d", uploadOKPrefix, port)) }

// EncodeDownloadOK serializa a confirmação de download.
func EncodeDownloadOK(port int, size int64) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", downloadOKPrefix, port, size))
}

// EncodeFileNotFound serializa a recusa de download por arquivo inexistente.
func EncodeFileNotFound() []byte { return []byte(errFileNotFound) }

// DecodeReply interpreta uma resposta de handshake.
func DecodeReply(b []byte) (Reply, error) {
	s := string(b)
	switch {
	case s == errFileNotFound:
		return Reply{NotFound: true}, nil
	case strings.HasPrefix(s, uploadOKPrefix):
		port, err := strconv.Atoi(s[len(uploadOKPrefix):])
		if err != nil {
			return Reply{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeReply", err)
		}
		return Reply{OK: true, Port: port}, nil
	case strings.HasPrefix(s, downloadOKPrefix):
		rest := s[len(downloadOKPrefix):]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return Reply{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeReply", fmt.Errorf("DOWNLOAD_OK malformado"))
		}
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return Reply{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeReply", err)
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Reply{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeReply", err)
		}
		return Reply{OK: true, Port: port, Filesize: size}, nil
	default:
		return Reply{}, xfererrors.New(xfererrors.KindParse, "wire.DecodeReply", fmt.Errorf("resposta desconhecida"))
	}
}

// Mensagens de listagem de arquivos: extensão aditiva sobre o handshake,
// baseada em original_source (TypeLIST/TypeLST do pacote protocol do
// professor). Não substitui nenhuma mensagem definida pela especificação.
const (
	listRequest    = "LIST"
	listReplyPrefix = "FILES:"
)

// Sondagem de 3 vias do endpoint privado de sessão, baseada em
// original_source/src/lib/socket.py (Socket.accept/_setup_client_socket/
// send_ack): lá o servidor envia o ACK inicial porque o cliente reutiliza o
// mesmo socket do handshake. Aqui o cliente abre um socket efêmero novo para
// a sessão, então é ele quem fala primeiro — mas o efeito é o mesmo: o lado
// que ainda não recebeu nada aprende o endereço do outro antes de a
// transferência começar, em vez de confiar no endereço (já obsoleto) visto
// no handshake público.
const (
	sessionHelloMsg = "SESSION_HELLO"
	sessionAckMsg   = "SESSION_ACK"
)

// EncodeSessionHello serializa a sondagem que o cliente envia no endpoint
// privado de sessão antes de um download começar.
func EncodeSessionHello() []byte { return []byte(sessionHelloMsg) }

// IsSessionHello reporta se b é a sondagem de sessão.
func IsSessionHello(b []byte) bool { return string(b) == sessionHelloMsg }

// EncodeSessionAck serializa a confirmação do servidor à sondagem.
func EncodeSessionAck() []byte { return []byte(sessionAckMsg) }

// IsSessionAck reporta se b é a confirmação do servidor.
func IsSessionAck(b []byte) bool { return string(b) == sessionAckMsg }

// EncodeListRequest serializa o pedido de listagem de arquivos.
func EncodeListRequest() []byte { return []byte(listRequest) }

// IsListRequest reporta se b é um pedido de listagem.
func IsListRequest(b []byte) bool { return string(b) == listRequest }

// EncodeListReply serializa a lista de nomes de arquivo disponíveis.
func EncodeListReply(names []string) []byte {
	return []byte(listReplyPrefix + strings.Join(names, ","))
}

// DecodeListReply interpreta a resposta de listagem.
func DecodeListReply(b []byte) ([]string, error) {
	s := string(b)
	if !strings.HasPrefix(s, listReplyPrefix) {
		return nil, xfererrors.New(xfererrors.KindParse, "wire.DecodeListReply", fmt.Errorf("prefixo FILES ausente"))
	}
	rest := s[len(listReplyPrefix):]
	if rest == "" {
		return []string{}, nil
	}
	return strings.Split(rest, ","), nil
}
