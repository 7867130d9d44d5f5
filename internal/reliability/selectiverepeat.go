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

// pollInterval é por quanto tempo o remetente do Selective Repeat bloqueia em
// cada sondagem de ACK, no estilo não-bloqueante, entre as passadas de
// Fill/Retransmit (§4.5 passo 3).
const pollInterval = 50 * time.Millisecond

// flowControlWait é a pequena espera feita quando o mapa de frames em voo
// está na capacidade máxima (§4.5 passo 4).
const flowControlWait = 10 * time.Millisecond

// inflightFrame rastreia os bytes de um frame ainda não confirmado, o
// horário do último envio e o número de retransmissões — a realização em Go
// do dicionário mutável que o original mantinha por número de sequência em
// voo.
type inflightFrame struct {
	frame    []byte
	lastSent time.Time
	retries  int
}

// SelectiveRepeat implementa o protocolo de janela deslizante de N frames
// com temporizadores de retransmissão por frame e semântica de ACK por
// frame (§4.5).
type SelectiveRepeat struct {
	Params Params
}

// NewSelectiveRepeat cria uma instância com os parâmetros dados.
func NewSelectiveRepeat(p Params) *SelectiveRepeat { return &SelectiveRepeat{Params: p} }

var _ Engine = (*SelectiveRepeat)(nil)

func totalFrames(size int64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64((size + MSS - 1) / MSS)
}

// Send executa o laço Fill / Retransmit / Receive-ACKs / Flow-control até
// base == next e o arquivo se esgotar, depois drena ACKs atrasados por um
// breve período.
func (s *SelectiveRepeat) Send(ctx context.Context, ep datagram.Endpoint, peer net.Addr, src io.ReaderAt, size int64, log *logrus.Entry) error {
	log = safeLog(log).WithField("proto", "selective-repeat").WithField("dir", "send")
	est := rtt.New(s.Params.Alpha, s.Params.K, s.Params.TMin, s.Params.TMax, s.Params.TStart)
	total := totalFrames(size)
	window := uint64(s.Params.Window)

	inflight := make(map[uint64]*inflightFrame)
	var base, next uint64
	readBuf := make([]byte, MSS)
	ackBuf := make([]byte, 64)

	for base < total {
		select {
		case <-ctx.Done():
			return xfererrors.New(xfererrors.KindCancelled, "reliability.SelectiveRepeat.Send", ctx.Err())
		default:
		}

		// 1. Preenchimento
		for next < base+window && next < total {
			off := int64(next) * MSS
			n, err := readChunk(src, off, readBuf)
			if err != nil && err != io.EOF {
				return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Send", err)
			}
			payload := make([]byte, n)
			copy(payload, readBuf[:n])
			frame := wire.EncodeData(wire.DataFrame{Seq: next, Payload: payload})
			if _, err := ep.SendTo(frame, peer); err != nil {
				return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Send", err)
			}
			inflight[next] = &inflightFrame{frame: frame, lastSent: nowFunc()}
			next++
		}

		// 2. Retransmite frames expirados
		for seq, f := range inflight {
			if nowFunc().Sub(f.lastSent) > est.Timeout() {
				if f.retries >= s.Params.MaxRetries {
					return xfererrors.New(xfererrors.KindRetryExhausted, "reliability.SelectiveRepeat.Send", nil)
				}
				if _, err := ep.SendTo(f.frame, peer); err != nil {
					return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Send", err)
				}
				f.lastSent = nowFunc()
				f.retries++
				log.WithField("seq", seq).WithField("retry", f.retries).Debug("retransmitindo frame expirado")
			}
		}

		// 3. Recebe ACKs (sondagem curta; ACKs fora de ordem apenas abrem buracos)
		ep.SetTimeout(pollInterval)
		n, _, err := ep.ReceiveFrom(ackBuf)
		if err == nil {
			if ackSeq, perr := wire.DecodeAck(ackBuf[:n]); perr == nil {
				if f, ok := inflight[ackSeq]; ok {
					est.Update(nowFunc().Sub(f.lastSent))
					delete(inflight, ackSeq)
					for {
						if _, stillIn := inflight[base]; stillIn || base >= next {
							break
						}
						base++
					}
				}
			}
		} else if !xfererrors.IsTimeout(err) {
			return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Send", err)
		}

		// 4. Controle de fluxo
		if uint64(len(inflight)) >= window && next < total {
			time.Sleep(flowControlWait)
		}
	}

	return drainSender(ctx, ep, s.Params.Drain)
}

// Receive armazena em buffer os frames fora de ordem dentro da janela,
// grava o prefixo contíguo em dst assim que disponível, e confirma por
// frame. peer é aceito por simetria com Send, mas ignorado: todo ACK vai
// para o endereço de onde o frame correspondente foi de fato observado, já
// que o endpoint privado da sessão nunca viu o endereço público do
// handshake do cliente.
func (s *SelectiveRepeat) Receive(ctx context.Context, ep datagram.Endpoint, peer net.Addr, dst io.WriterAt, size int64, log *logrus.Entry) error {
	log = safeLog(log).WithField("proto", "selective-repeat").WithField("dir", "recv")

	if size == 0 {
		return nil
	}

	window := uint64(s.Params.Window)
	var base uint64
	var written int64
	buffer := make(map[uint64][]byte)
	buf := make([]byte, MSS+32)

	ep.SetTimeout(s.Params.IdleRecv)
	for written < size {
		select {
		case <-ctx.Done():
			return xfererrors.New(xfererrors.KindCancelled, "reliability.SelectiveRepeat.Receive", ctx.Err())
		default:
		}

		n, addr, err := ep.ReceiveFrom(buf)
		if err != nil {
			if xfererrors.IsTimeout(err) {
				return xfererrors.New(xfererrors.KindTimeout, "reliability.SelectiveRepeat.Receive", nil)
			}
			return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Receive", err)
		}
		ep.SetTimeout(s.Params.IdleRecv)

		frame, perr := wire.DecodeData(buf[:n])
		if perr != nil {
			continue
		}
		seq := frame.Seq

		switch {
		case seq >= base && seq < base+window:
			if _, ok := buffer[seq]; !ok {
				payload := make([]byte, len(frame.Payload))
				copy(payload, frame.Payload)
				buffer[seq] = payload
			}
			for {
				payload, ok := buffer[base]
				if !ok {
					break
				}
				off := int64(base) * MSS
				if _, err := dst.WriteAt(payload, off); err != nil {
					return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Receive", err)
				}
				written += int64(len(payload))
				delete(buffer, base)
				base++
			}
			if _, err := ep.SendTo(wire.EncodeAck(seq), addr); err != nil {
				return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Receive", err)
			}
			log.WithField("bytes", written).Debug("prefixo contíguo avançado")
		case seq < base:
			if _, err := ep.SendTo(wire.EncodeAck(seq), addr); err != nil {
				return xfererrors.New(xfererrors.KindIO, "reliability.SelectiveRepeat.Receive", err)
			}
		default:
			// seq >= base+window: longe demais à frente, descarta sem ACK
			// para não permitir crescimento ilimitado do buffer.
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

// drainSender absorve e descarta quaisquer ACKs que chegarem durante dur
// após o remetente considerar a transferência concluída (§4.5 passo 5, §4.3
// Draining).
func drainSender(ctx context.Context, ep datagram.Endpoint, dur time.Duration) error {
	deadline := nowFunc().Add(dur)
	buf := make([]byte, 64)
	for {
		remaining := deadline.Sub(nowFunc())
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ep.SetTimeout(remaining)
		if _, _, err := ep.ReceiveFrom(buf); err != nil {
			if xfererrors.IsTimeout(err) {
				return nil
			}
			return nil
		}
	}
}
