// Package reliability implementa os dois protocolos de entrega confiável
// intercambiáveis sobre um datagram.Endpoint: Stop-and-Wait (1 bit de
// sequência, um frame em voo) e Selective Repeat (janela de N frames, timers
// de retransmissão por frame, ACK por frame).
//
// Ambos implementam Engine com as mesmas duas operações — Send (lê do
// arquivo e envia, aguardando ACKs) e Receive (recebe frames e escreve no
// arquivo, emitindo ACKs) — o que cobre os quatro papéis do handshake
// (upload do cliente / recepção no servidor, envio no servidor / download do
// cliente) sem duplicar o algoritmo de janela.
package reliability

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// MSS é o tamanho máximo de payload por frame de dados.
const MSS = 1024

// Engine é o contrato comum aos dois protocolos de recuperação de erro.
type Engine interface {
	// Send lê até size bytes de src (ReaderAt, permitindo reposicionar para
	// retransmissão) e os entrega ao peer através de ep, retornando quando
	// o último byte foi confirmado (ou um erro fatal ocorreu).
	Send(ctx context.Context, ep datagram.Endpoint, peer net.Addr, src io.ReaderAt, size int64, log *logrus.Entry) error
	// Receive recebe frames de ep e os escreve em dst (WriterAt) na ordem
	// original, retornando quando exatamente size bytes foram entregues (ou
	// um erro fatal ocorreu).
	Receive(ctx context.Context, ep datagram.Endpoint, peer net.Addr, dst io.WriterAt, size int64, log *logrus.Entry) error
}

// Params agrupa as constantes ajustáveis de um protocolo de recuperação.
type Params struct {
	TStart     time.Duration // timeout inicial antes de qualquer amostra de RTT
	TMax       time.Duration // teto de timeout
	TMin       time.Duration // piso de timeout (igual a TStart nos defaults da especificação)
	MaxRetries int           // tentativas máximas por frame antes de abortar a sessão
	Window     int           // tamanho de janela (apenas Selective Repeat)
	Alpha      float64       // peso do estimador de RTT
	K          float64       // multiplicador de margem do estimador de RTT
	IdleRecv   time.Duration // timeout de ociosidade do lado receptor
	Drain      time.Duration // duração da fase de drenagem pós-conclusão
}

// DefaultStopAndWaitParams retorna os parâmetros padrão de Stop-and-Wait
// (§4.4 da especificação).
func DefaultStopAndWaitParams() Params {
	return Params{
		TStart:     20 * time.Millisecond,
		TMax:       500 * time.Millisecond,
		TMin:       20 * time.Millisecond,
		MaxRetries: 20,
		Alpha:      0.7,
		K:          2.5,
		IdleRecv:   60 * time.Second,
		Drain:      2 * time.Second,
	}
}

// DefaultSelectiveRepeatParams retorna os parâmetros padrão de Selective
// Repeat (§4.5 da especificação).
func DefaultSelectiveRepeatParams() Params {
	return Params{
		TStart:     50 * time.Millisecond,
		TMax:       500 * time.Millisecond,
		TMin:       50 * time.Millisecond,
		MaxRetries: 20,
		Window:     32,
		Alpha:      0.7,
		K:          3,
		IdleRecv:   60 * time.Second,
		Drain:      2 * time.Second,
	}
}

// ForProtocol seleciona o Engine correspondente ao nome de protocolo do
// handshake, sem reflexão (§9, redesign flag sobre o duck typing do
// original). Usado tanto pelo trabalhador de sessão do servidor quanto
// pelos drivers de cliente, que falam o mesmo protocolo de recuperação
// nos dois lados do link.
func ForProtocol(protocol string) Engine {
	switch protocol {
	case wire.ProtocolSelectiveRepeat:
		return NewSelectiveRepeat(DefaultSelectiveRepeatParams())
	default:
		return NewStopAndWait(DefaultStopAndWaitParams())
	}
}

// safeLog garante um *logrus.Entry utilizável mesmo quando o chamador (em
// testes, tipicamente) não passa um logger configurado.
func safeLog(log *logrus.Entry) *logrus.Entry {
	if log != nil {
		return log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// readChunk lê até len(buf) bytes de src a partir de off, retornando o
// número de bytes lidos. Usado por ambos os protocolos para reler os mesmos
// bytes do arquivo em retransmissões, sem manter o arquivo "em aberto" numa
// posição mutável compartilhada.
func readChunk(src io.ReaderAt, off int64, buf []byte) (int, error) {
	n, err := src.ReadAt(buf, off)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

// defaultNow é a fonte real do relógio de parede; reliability.nowFunc aponta
// para ela e é a indireção usada pelos laços dos remetentes.
func defaultNow() time.Time { return time.Now() }

// drainReceiver implementa a fase de cauda limitada descrita no §4.3 da
// especificação: depois que o último byte foi entregue, o receptor continua
// honrando frames de dados duplicados reenviando o ACK apropriado durante
// `dur`, depois retorna. seqOf extrai o número de sequência de um datagrama
// bruto, ou ok=false se não se decodificar como frame de dados. Cada ACK é
// enviado de volta para o endereço de onde a duplicata foi de fato
// observada, nunca para um peer fixo registrado anteriormente.
func drainReceiver(ctx context.Context, ep datagram.Endpoint, dur time.Duration, seqOf func([]byte) (uint64, bool)) error {
	deadline := defaultNow().Add(dur)
	buf := make([]byte, MSS+32)
	for {
		remaining := deadline.Sub(defaultNow())
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ep.SetTimeout(remaining)
		n, addr, err := ep.ReceiveFrom(buf)
		if err != nil {
			if xfererrors.IsTimeout(err) {
				return nil
			}
			return nil // E/S durante drenagem não é fatal: a transferência já teve sucesso
		}
		if seq, ok := seqOf(buf[:n]); ok {
			_, _ = ep.SendTo(wire.EncodeAck(seq), addr)
		}
	}
}
