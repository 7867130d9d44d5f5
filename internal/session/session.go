// Package session implementa o trabalhador por cliente (§4.3 da
// especificação): possui um endpoint privado, um arquivo, a instância do
// protocolo escolhido, e conduz o ciclo de vida Opening -> Transferring ->
// Draining -> Closed, liberando os recursos incondicionalmente ao final.
package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/reliability"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// sessionHelloBudget limita quanto tempo um trabalhador de download espera
// pela sondagem de 3 vias do cliente no endpoint privado antes de desistir.
// Espelha o TIMEOUT = 15 segundos de original_source/src/lib/socket.py.
const sessionHelloBudget = 15 * time.Second

// State é um dos quatro estados do ciclo de vida da sessão.
type State int

const (
	Opening State = iota
	Transferring
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Transferring:
		return "transferring"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role identifica de qual lado do handshake a sessão atua.
type Role int

const (
	RoleUpload Role = iota
	RoleDownload
)

func (r Role) String() string {
	if r == RoleUpload {
		return "upload"
	}
	return "download"
}

// Spec descreve uma sessão no momento da criação — tudo que o dispatcher
// aprendeu de um frame de iniciação validado, imutável a partir daí (o
// registro de handshake do §3 da especificação).
type Spec struct {
	Peer     net.Addr
	Role     Role
	Protocol string // "stop-and-wait" ou "selective-repeat"
	Filename string
	Filesize int64 // tamanho declarado; autoritativo tanto para upload quanto para download
	BaseDir  string
}

// Outcome é o desfecho observável de uma sessão (§4.6).
type Outcome struct {
	Success  bool
	Err      error
	Bytes    int64
	Elapsed  time.Duration
}

// Worker possui um endpoint privado e um arquivo para exatamente uma sessão.
type Worker struct {
	spec  Spec
	ep    datagram.Endpoint
	log   *logrus.Entry
	state State
}

// New constrói um trabalhador para spec, vinculado ao endpoint privado ep já
// alocado. O dispatcher é dono de alocar ep; o trabalhador é dono de fechá-lo.
func New(spec Spec, ep datagram.Endpoint, log *logrus.Entry) *Worker {
	return &Worker{spec: spec, ep: ep, log: log.WithField("peer", spec.Peer).WithField("role", spec.Role).WithField("protocol", spec.Protocol)}
}

// State reporta o estado corrente do ciclo de vida do trabalhador.
func (w *Worker) State() State { return w.state }

// Run conduz a sessão até a conclusão: Opening cria/abre o arquivo,
// Transferring executa o motor de confiabilidade, Draining é absorvido pela
// própria fase de cauda limitada do motor (§4.3), Closed libera os recursos
// incondicionalmente via defer independentemente do desfecho.
func (w *Worker) Run(ctx context.Context) Outcome {
	start := time.Now()
	w.state = Opening
	defer func() {
		w.state = Closed
		_ = w.ep.Close()
	}()

	f, err := w.openFile()
	if err != nil {
		w.log.WithError(err).Warn("falha ao abrir arquivo da sessão")
		return Outcome{Success: false, Err: err, Elapsed: time.Since(start)}
	}
	defer f.Close()

	w.state = Transferring
	engine := reliability.ForProtocol(w.spec.Protocol)

	var xferErr error
	switch w.spec.Role {
	case RoleUpload:
		// Cliente envia; servidor recebe e grava. w.spec.Peer é só um
		// indício — o endereço do canal privado de dados do cliente é
		// diferente do endereço visto no handshake público, então o
		// receptor aprende o remetente real a partir do primeiro frame
		// observado em vez de confiar nele.
		xferErr = engine.Receive(ctx, w.ep, w.spec.Peer, f, w.spec.Filesize, w.log)
	case RoleDownload:
		// Servidor envia a partir do arquivo; como quem envia não tem nada
		// a observar antes do primeiro frame, aguarda a sondagem de 3 vias
		// do cliente no endpoint privado para aprender o endereço correto
		// do canal de dados antes de começar a transmitir.
		peer, err := w.awaitSessionHello(ctx)
		if err != nil {
			w.log.WithError(err).Warn("sondagem de sessão do cliente não chegou")
			return Outcome{Success: false, Err: err, Elapsed: time.Since(start)}
		}
		xferErr = engine.Send(ctx, w.ep, peer, f, w.spec.Filesize, w.log)
	}

	elapsed := time.Since(start)
	if xferErr != nil {
		w.log.WithError(xferErr).Warn("sessão encerrada com falha")
		return Outcome{Success: false, Err: xferErr, Bytes: 0, Elapsed: elapsed}
	}
	w.log.WithField("bytes", w.spec.Filesize).WithField("elapsed", elapsed).Info("sessão concluída com sucesso")
	return Outcome{Success: true, Bytes: w.spec.Filesize, Elapsed: elapsed}
}

// awaitSessionHello bloqueia no endpoint privado até a sondagem de sessão do
// cliente chegar, confirma-a e retorna o endereço para onde enviar os dados —
// o endereço que o endpoint privado de fato observou, não aquele registrado
// no handshake do endpoint público.
func (w *Worker) awaitSessionHello(ctx context.Context) (net.Addr, error) {
	buf := make([]byte, 64)
	deadline := time.Now().Add(sessionHelloBudget)
	for {
		select {
		case <-ctx.Done():
			return nil, xfererrors.New(xfererrors.KindCancelled, "session.Worker.awaitSessionHello", ctx.Err())
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, xfererrors.New(xfererrors.KindTimeout, "session.Worker.awaitSessionHello", nil)
		}
		w.ep.SetTimeout(remaining)
		n, addr, err := w.ep.ReceiveFrom(buf)
		if err != nil {
			if xfererrors.IsTimeout(err) {
				return nil, xfererrors.New(xfererrors.KindTimeout, "session.Worker.awaitSessionHello", nil)
			}
			return nil, xfererrors.New(xfererrors.KindIO, "session.Worker.awaitSessionHello", err)
		}
		if !wire.IsSessionHello(buf[:n]) {
			continue // datagrama inesperado antes da sondagem: ignora e continua esperando
		}
		if _, err := w.ep.SendTo(wire.EncodeSessionAck(), addr); err != nil {
			return nil, xfererrors.New(xfererrors.KindIO, "session.Worker.awaitSessionHello", err)
		}
		return addr, nil
	}
}

// openFile realiza o estado Opening: cria (escrita) para um receptor de
// upload, abre (leitura) para um remetente de download.
func (w *Worker) openFile() (*os.File, error) {
	path := filepath.Join(w.spec.BaseDir, filepath.Base(w.spec.Filename))
	switch w.spec.Role {
	case RoleUpload:
		f, err := os.Create(path)
		if err != nil {
			return nil, xfererrors.New(xfererrors.KindIO, "session.Worker.openFile", err)
		}
		return f, nil
	case RoleDownload:
		f, err := os.Open(path)
		if err != nil {
			return nil, xfererrors.New(xfererrors.KindIO, "session.Worker.openFile", err)
		}
		return f, nil
	default:
		return nil, xfererrors.New(xfererrors.KindIO, "session.Worker.openFile", fmt.Errorf("papel de sessão desconhecido"))
	}
}
