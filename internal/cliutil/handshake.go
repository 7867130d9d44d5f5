package cliutil

import (
	"time"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// HandshakeRetries, HandshakeStart e HandshakeMax espelham a regra de
// retentativa do cliente do §4.2 da especificação: reenviar o mesmo frame de
// iniciação com timeout em dobro, até um número limitado de tentativas.
const (
	HandshakeRetries = 5
	HandshakeStart   = 200 * time.Millisecond
	HandshakeMax     = 3 * time.Second
)

// SessionHandshakeRetries, SessionHandshakeStart e SessionHandshakeMax
// aplicam o mesmo formato de retentativa limitada com timeout em dobro à
// sondagem do endpoint privado de sessão (wire.EncodeSessionHello).
const (
	SessionHandshakeRetries = HandshakeRetries
	SessionHandshakeStart   = HandshakeStart
	SessionHandshakeMax     = HandshakeMax
)

// DoHandshake envia frame em ep e aguarda qualquer resposta, dobrando o
// timeout a cada retentativa até HandshakeMax, desistindo após
// HandshakeRetries. Retorna os bytes do primeiro datagrama de resposta.
func DoHandshake(ep datagram.Endpoint, frame []byte) ([]byte, error) {
	buf := make([]byte, 4096)
	timeout := HandshakeStart

	for attempt := 0; attempt <= HandshakeRetries; attempt++ {
		if _, err := ep.SendTo(frame, nil); err != nil {
			return nil, xfererrors.New(xfererrors.KindIO, "cliutil.DoHandshake", err)
		}
		ep.SetTimeout(timeout)
		n, _, err := ep.ReceiveFrom(buf)
		if err == nil {
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if !xfererrors.IsTimeout(err) {
			return nil, xfererrors.New(xfererrors.KindIO, "cliutil.DoHandshake", err)
		}
		if timeout*2 <= HandshakeMax {
			timeout *= 2
		} else {
			timeout = HandshakeMax
		}
	}
	return nil, xfererrors.New(xfererrors.KindRetryExhausted, "cliutil.DoHandshake", nil)
}

// DoSessionHandshake sonda ep — já discado para o endpoint privado de sessão
// do servidor — até o servidor confirmar que aprendeu o endereço deste
// cliente, ou o orçamento de retentativas se esgotar. Necessário antes de um
// Receive de download começar: ao contrário do upload, o lado servidor de um
// download não tem nada a observar antes de começar a enviar, então o
// cliente precisa falar primeiro (restaura o handshake de 3 vias que
// original_source usava para associar um socket privado ao seu peer,
// src/lib/socket.py accept()/send_ack).
func DoSessionHandshake(ep datagram.Endpoint) error {
	buf := make([]byte, 64)
	timeout := SessionHandshakeStart

	for attempt := 0; attempt <= SessionHandshakeRetries; attempt++ {
		if _, err := ep.SendTo(wire.EncodeSessionHello(), nil); err != nil {
			return xfererrors.New(xfererrors.KindIO, "cliutil.DoSessionHandshake", err)
		}
		ep.SetTimeout(timeout)
		n, _, err := ep.ReceiveFrom(buf)
		if err == nil {
			if wire.IsSessionAck(buf[:n]) {
				return nil
			}
			continue // datagrama inesperado: mantém o timeout corrente e tenta de novo
		}
		if !xfererrors.IsTimeout(err) {
			return xfererrors.New(xfererrors.KindIO, "cliutil.DoSessionHandshake", err)
		}
		if timeout*2 <= SessionHandshakeMax {
			timeout *= 2
		} else {
			timeout = SessionHandshakeMax
		}
	}
	return xfererrors.New(xfererrors.KindRetryExhausted, "cliutil.DoSessionHandshake", nil)
}
