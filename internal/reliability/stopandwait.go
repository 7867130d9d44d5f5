package reliability

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/rtt"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// StopAndWait implementa o protocolo de um bit de sequência alternante com
// um único frame em voo por vez (§4.4 da especificação).
type StopAndWait struct {
	Params Params
}

// NewStopAndWait cria uma instância com os parâmetros dados.
func NewStopAndWait(p Params) *StopAndWait { return &StopAndWait{Params: p} }

var _ Engine = (*StopAndWait)(nil)

// Send executa o loop do remetente: lê até MSS bytes na posição corrente,
// envia o frame com o bit de sequência alternante, aguarda o ACK
// correspondente dentro do timeout corrente, e avança. Em timeout,
// retransmite o mesmo frame com backoff multiplicativo até MaxRetries.
func (s *StopAndWait) Send(ctx context.Context, ep datagram.Endpoint, peer net.Addr, src io.ReaderAt, size int64, log *logrus.Entry) error {
	log = safeLog(log).WithField("proto", "stop-and-wait").WithField("dir", "send")
	est := rtt.New(s.Params.Alpha, s.Params.K, s.Params.TMin, s.Params.TMax, s.Params.TStart)
	buf := make([]byte, MSS)

	var off int64
	var seq uint64 // alterna entre 0 e 1
	for off < size {
		select {
		case <-ctx.Done():
			return xfererrors.New(xfererrors.KindCancelled, "reliability.StopAndWait.Send", ctx.Err())
		default:
		}

		n, err := readChunk(src, off, buf)
		if err != nil && err != io.EOF {
			return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Send", err)
		}
		frame := wire.EncodeData(wire.DataFrame{Seq: seq, Payload: buf[:n]})

		retries := 0
		resend := true
		var sendTime, deadline time.Time
		for {
			select {
			case <-ctx.Done():
				return xfererrors.New(xfererrors.KindCancelled, "reliability.StopAndWait.Send", ctx.Err())
			default:
			}

			if resend {
				sendTime = nowFunc()
				if _, err := ep.SendTo(frame, peer); err != nil {
					return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Send", err)
				}
				deadline = sendTime.Add(est.Timeout())
				resend = false
			}
			// Espera apenas o que resta da janela de timeout deste envio.
			ep.SetTimeout(max(deadline.Sub(nowFunc()), time.Microsecond))

			ackBuf := make([]byte, 64)
			n2, _, err := ep.ReceiveFrom(ackBuf)
			if err != nil {
				if !xfererrors.IsTimeout(err) {
					return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Send", err)
				}
				retries++
				if retries > s.Params.MaxRetries {
					return xfererrors.New(xfererrors.KindRetryExhausted, "reliability.StopAndWait.Send", nil)
				}
				est.Backoff(2)
				log.WithField("seq", seq).WithField("retry", retries).Debug("timeout, retransmitindo")
				resend = true
				continue
			}

			ackSeq, perr := wire.DecodeAck(ackBuf[:n2])
			if perr != nil {
				continue // ACK malformado: ignora, segue esperando dentro da mesma janela
			}
			if ackSeq != seq {
				continue // ACK obsoleto (duplicado do frame anterior)
			}
			est.Update(nowFunc().Sub(sendTime))
			break
		}

		off += int64(n)
		seq ^= 1
	}
	return nil
}

// Receive executa o loop do receptor: recebe um frame, entrega ao arquivo se
// em ordem e ACKa; se duplicado, reenvia o último ACK correto sem mutar o
// arquivo. peer é aceito para simetria com Send, mas ignorado: cada ACK vai
// para o endereço de onde o frame correspondente realmente chegou, que é o
// único jeito confiável de alcançar o canal de dados do cliente (o endpoint
// privado de sessão nunca viu o endereço do handshake público).
func (s *StopAndWait) Receive(ctx context.Context, ep datagram.Endpoint, peer net.Addr, dst io.WriterAt, size int64, log *logrus.Entry) error {
	log = safeLog(log).WithField("proto", "stop-and-wait").WithField("dir", "recv")

	if size == 0 {
		return nil // arquivo vazio: nenhum frame de dados é trocado
	}

	var expected uint64 // 0 ou 1
	var lastCorrect int64 = -1
	var off int64
	buf := make([]byte, MSS+32)

	ep.SetTimeout(s.Params.IdleRecv)
	for off < size {
		select {
		case <-ctx.Done():
			return xfererrors.New(xfererrors.KindCancelled, "reliability.StopAndWait.Receive", ctx.Err())
		default:
		}

		n, addr, err := ep.ReceiveFrom(buf)
		if err != nil {
			if xfererrors.IsTimeout(err) {
				return xfererrors.New(xfererrors.KindTimeout, "reliability.StopAndWait.Receive", nil)
			}
			return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Receive", err)
		}
		ep.SetTimeout(s.Params.IdleRecv)

		frame, perr := wire.DecodeData(buf[:n])
		if perr != nil {
			continue // frame malformado: descartado silenciosamente
		}

		if frame.Seq == expected {
			if _, err := dst.WriteAt(frame.Payload, off); err != nil {
				return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Receive", err)
			}
			off += int64(len(frame.Payload))
			lastCorrect = int64(expected)
			if _, err := ep.SendTo(wire.EncodeAck(expected), addr); err != nil {
				return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Receive", err)
			}
			expected ^= 1
			log.WithField("bytes", off).Debug("frame entregue")
		} else {
			// Duplicado (bit oposto). Antes do primeiro frame em ordem,
			// não há ACK correto a reenviar: ignora silenciosamente.
			if lastCorrect >= 0 {
				if _, err := ep.SendTo(wire.EncodeAck(uint64(lastCorrect)), addr); err != nil {
					return xfererrors.New(xfererrors.KindIO, "reliability.StopAndWait.Receive", err)
				}
			}
		}
	}

	return drainReceiver(ctx, ep, s.Params.Drain, func(b []byte) (uint64, bool) {
		f, err := wire.DecodeData(b)
		if err != nil {
			return 0, false
		}
		return f.Seq, true
	})
}

// nowFunc é indireto para permitir substituição determinística em testes.
var nowFunc = defaultNow
