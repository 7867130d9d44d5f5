package datagram

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

var (
	errClosed = errors.New("endpoint fechado")
	errNoPeer = errors.New("endpoint sem par conectado")
	errTimeout = errors.New("tempo de espera excedido")
)

// memAddr é um net.Addr trivial usado para rotular as duas pontas de um MemPipe.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memDatagram struct {
	b    []byte
	from net.Addr
}

// MemEndpoint é um Endpoint em memória apoiado por um canal com buffer,
// usado pelos testes para conduzir os protocolos de confiabilidade de forma
// determinística — sem sockets reais, sem sleeps presos ao relógio de
// parede para simular perda.
type MemEndpoint struct {
	addr     net.Addr
	inbox    chan memDatagram
	mu       sync.Mutex
	timeout  time.Duration
	closed   chan struct{}
	closeMu  sync.Once
	peer     *MemEndpoint
	peerLoss LossPolicy
}

// LossPolicy decide se um datagrama com os bytes dados (que carregam o
// número de sequência) deve ser descartado em trânsito. Uma política nil
// nunca descarta.
type LossPolicy func(b []byte) bool

// NewRandomLoss retorna uma LossPolicy que descarta uma fração `rate` dos
// datagramas de forma uniformemente aleatória, com semente determinística.
func NewRandomLoss(rate float64, seed int64) LossPolicy {
	if rate <= 0 {
		return nil
	}
	r := rand.New(rand.NewSource(seed))
	return func(b []byte) bool { return r.Float64() < rate }
}

// MemPipe é um par de MemEndpoints conectados, emulando um enlace com perdas
// entre o endpoint privado de uma sessão e um cliente.
type MemPipe struct {
	A, B *MemEndpoint
}

// NewMemPipe constrói um pipe com uma política de perda independente por direção.
func NewMemPipe(aLoss, bLoss LossPolicy) *MemPipe {
	a := &MemEndpoint{addr: memAddr("A"), inbox: make(chan memDatagram, 4096), closed: make(chan struct{})}
	b := &MemEndpoint{addr: memAddr("B"), inbox: make(chan memDatagram, 4096), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	a.peerLoss, b.peerLoss = bLoss, aLoss
	return &MemPipe{A: a, B: b}
}

func (e *MemEndpoint) SendTo(b []byte, _ net.Addr) (int, error) {
	select {
	case <-e.closed:
		return 0, xfererrors.New(xfererrors.KindIO, "datagram.MemEndpoint.SendTo", errClosed)
	default:
	}
	if e.peer == nil {
		return 0, xfererrors.New(xfererrors.KindIO, "datagram.MemEndpoint.SendTo", errNoPeer)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	if e.peerLoss != nil && e.peerLoss(cp) {
		return len(b), nil // descartado em trânsito, remetente ainda vê sucesso
	}
	select {
	case e.peer.inbox <- memDatagram{b: cp, from: e.addr}:
	case <-e.peer.closed:
	}
	return len(b), nil
}

func (e *MemEndpoint) ReceiveFrom(buf []byte) (int, net.Addr, error) {
	e.mu.Lock()
	tmo := e.timeout
	e.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if tmo > 0 {
		timer = time.NewTimer(tmo)
		timeoutCh = timer.C
		defer timer.Stop()
	}
	select {
	case d := <-e.inbox:
		n := copy(buf, d.b)
		return n, d.from, nil
	case <-timeoutCh:
		return 0, nil, xfererrors.New(xfererrors.KindTimeout, "datagram.MemEndpoint.ReceiveFrom", errTimeout)
	case <-e.closed:
		return 0, nil, xfererrors.New(xfererrors.KindIO, "datagram.MemEndpoint.ReceiveFrom", errClosed)
	}
}

func (e *MemEndpoint) SetTimeout(d time.Duration) {
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

func (e *MemEndpoint) LocalAddr() net.Addr { return e.addr }

func (e *MemEndpoint) Close() error {
	e.closeMu.Do(func() { close(e.closed) })
	return nil
}
