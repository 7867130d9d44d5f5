// Package datagram define o endpoint de mensagens não confiável sobre o qual
// o motor de confiabilidade opera: um socket de datagramas vinculado, com
// envio, recepção-com-timeout e fechamento, carregando payloads de bytes
// opacos endereçados a um peer por datagrama.
//
// A implementação real (UDPEndpoint) embrulha um *net.UDPConn seguindo o
// mesmo estilo do professor (ListenUDP/DialUDP, SetReadBuffer/SetWriteBuffer
// generosos para suportar rajadas). Um endpoint em memória (MemEndpoint) é
// usado pelos testes de internal/reliability e internal/session para injetar
// perda com semente determinística sem depender de sockets reais; ele não
// reordena datagramas.
package datagram

import (
	"fmt"
	"net"
	"time"

	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// DefaultReadBuffer e DefaultWriteBuffer são os tamanhos de buffer de socket
// usados pelos endpoints reais, grandes o bastante para múltiplas sessões
// concorrentes e rajadas de janela deslizante.
const (
	DefaultReadBuffer  = 4 << 20
	DefaultWriteBuffer = 4 << 20
)

// Endpoint é o contrato mínimo que o motor de confiabilidade e o dispatcher
// precisam de um socket de datagramas.
type Endpoint interface {
	// SendTo envia b para addr. addr pode ser nil se o endpoint já estiver
	// conectado a um único peer (caso dos endpoints privados de sessão).
	SendTo(b []byte, addr net.Addr) (int, error)
	// ReceiveFrom bloqueia até chegar um datagrama, o endpoint fechar, ou o
	// timeout corrente expirar (KindTimeout).
	ReceiveFrom(buf []byte) (n int, addr net.Addr, err error)
	// SetTimeout define o prazo da próxima (e subsequentes) ReceiveFrom.
	// d<=0 desativa o timeout (bloqueia indefinidamente).
	SetTimeout(d time.Duration)
	// LocalAddr retorna o endereço local vinculado.
	LocalAddr() net.Addr
	// Close libera o socket. ReceiveFrom em progresso retorna erro.
	Close() error
}

// UDPEndpoint adapta *net.UDPConn à interface Endpoint.
type UDPEndpoint struct {
	conn *net.UDPConn
}

// Listen cria um endpoint vinculado a host:port. port==0 aloca uma porta
// efêmera do sistema operacional — usado para alocar endpoints privados de
// sessão.
func Listen(host string, port int) (*UDPEndpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, xfererrors.New(xfererrors.KindIO, "datagram.Listen", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, xfererrors.New(xfererrors.KindIO, "datagram.Listen", err)
	}
	_ = conn.SetReadBuffer(DefaultReadBuffer)
	_ = conn.SetWriteBuffer(DefaultWriteBuffer)
	return &UDPEndpoint{conn: conn}, nil
}

// Dial cria um endpoint conectado a um peer único (usado pelos drivers de
// cliente, que falam apenas com um endereço de servidor por vez).
func Dial(host string, port int) (*UDPEndpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, xfererrors.New(xfererrors.KindIO, "datagram.Dial", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, xfererrors.New(xfererrors.KindIO, "datagram.Dial", err)
	}
	_ = conn.SetReadBuffer(DefaultReadBuffer)
	_ = conn.SetWriteBuffer(DefaultWriteBuffer)
	return &UDPEndpoint{conn: conn}, nil
}

func (e *UDPEndpoint) SendTo(b []byte, addr net.Addr) (int, error) {
	var (
		n   int
		err error
	)
	if udpAddr, ok := addr.(*net.UDPAddr); ok && udpAddr != nil {
		n, err = e.conn.WriteToUDP(b, udpAddr)
	} else {
		n, err = e.conn.Write(b)
	}
	if err != nil {
		return n, xfererrors.New(xfererrors.KindIO, "datagram.UDPEndpoint.SendTo", err)
	}
	return n, nil
}

func (e *UDPEndpoint) ReceiveFrom(buf []byte) (int, net.Addr, error) {
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, addr, xfererrors.New(xfererrors.KindTimeout, "datagram.UDPEndpoint.ReceiveFrom", err)
		}
		return n, addr, xfererrors.New(xfererrors.KindIO, "datagram.UDPEndpoint.ReceiveFrom", err)
	}
	return n, addr, nil
}

func (e *UDPEndpoint) SetTimeout(d time.Duration) {
	if d <= 0 {
		_ = e.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = e.conn.SetReadDeadline(time.Now().Add(d))
}

func (e *UDPEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

func (e *UDPEndpoint) Close() error { return e.conn.Close() }

// Port retorna a porta UDP à qual este endpoint está vinculado.
func (e *UDPEndpoint) Port() int {
	if a, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}
