// Package dispatch implementa o dispatcher do servidor (§4.2 da
// especificação): escuta no endpoint público, valida cada datagrama de
// iniciação, aloca um endpoint privado e delega a uma sessão, permanecendo
// em escuta — um único estado "Listening" com transições que sempre
// retornam a ele mesmo.
package dispatch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/metrics"
	"github.com/iLukSbr/reliable-udp-transfer/internal/session"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xfererrors"
)

// ShutdownGrace é por quanto tempo o dispatcher aguarda as sessões em
// andamento terminarem depois que o loop de aceitação para, antes de
// reportar o restante como falha (§5: "trabalhadores ativos recebem um
// período de carência limitado para terminar").
const ShutdownGrace = 3 * time.Second

// recvBufSize é grande o suficiente para qualquer frame de handshake; frames
// de dados/ACK nunca chegam no endpoint público (vão para o endpoint
// privado de uma sessão).
const recvBufSize = 4096

// Dispatcher possui o endpoint de escuta e gera os trabalhadores de sessão.
// Não compartilha estado mutável com os trabalhadores gerados após a criação.
type Dispatcher struct {
	public  datagram.Endpoint
	baseDir string
	log     *logrus.Entry
	metrics *metrics.ServerMetrics

	wg sync.WaitGroup
}

// New vincula o endpoint público em host:port e prepara um dispatcher que
// serve arquivos sob baseDir.
func New(host string, port int, baseDir string, log *logrus.Entry) (*Dispatcher, error) {
	ep, err := datagram.Listen(host, port)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{public: ep, baseDir: baseDir, log: log, metrics: metrics.New()}, nil
}

// Addr retorna o endereço vinculado do endpoint público.
func (d *Dispatcher) Addr() string { return d.public.LocalAddr().String() }

// Metrics retorna os contadores de sessões/bytes/erros do dispatcher.
func (d *Dispatcher) Metrics() metrics.Snapshot { return d.metrics.Snapshot() }

// Run é o loop de aceitação cooperativo: observa datagramas de iniciação na
// ordem de chegada e gera um trabalhador para cada um válido, nunca morrendo
// por causa de um erro de sessão. Retorna quando ctx é cancelado, depois de
// dar às sessões em andamento o prazo ShutdownGrace para terminar.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.public.Close()

	buf := make([]byte, recvBufSize)
	for {
		select {
		case <-ctx.Done():
			d.waitGrace()
			return
		default:
		}

		d.public.SetTimeout(200 * time.Millisecond)
		n, addr, err := d.public.ReceiveFrom(buf)
		if err != nil {
			if xfererrors.IsTimeout(err) {
				continue
			}
			// socket fechado ou outro erro de E/S: encerra o loop de aceitação
			d.waitGrace()
			return
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		d.handle(ctx, frame, addr)
	}
}

func (d *Dispatcher) waitGrace() {
	waitCh := make(chan struct{})
	go func() { d.wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(ShutdownGrace):
		d.log.Warn("prazo de carência esgotado; sessões ainda ativas serão reportadas como falha")
	}
}

// handle decodifica um datagrama observado no endpoint público e o
// despacha: um UPLOAD_CLIENT/DOWNLOAD_CLIENT válido gera um trabalhador; uma
// requisição LIST é respondida imediatamente; qualquer outro caso é
// registrado e ignorado.
func (d *Dispatcher) handle(ctx context.Context, b []byte, addr net.Addr) {
	if wire.IsListRequest(b) {
		d.replyList(addr)
		return
	}

	in, err := wire.DecodeInitiation(b)
	if err != nil {
		d.log.WithField("peer", addr).WithError(err).Debug("datagrama de iniciação ignorado")
		return
	}
	if !wire.ValidProtocol(in.Protocol) {
		d.log.WithField("peer", addr).WithField("protocol", in.Protocol).Debug("protocolo de recuperação desconhecido, ignorado")
		return
	}

	switch in.Role {
	case wire.RoleUpload:
		d.acceptUpload(ctx, in, addr)
	case wire.RoleDownload:
		d.acceptDownload(ctx, in, addr)
	}
}

func (d *Dispatcher) acceptUpload(ctx context.Context, in wire.Initiation, addr net.Addr) {
	priv, err := datagram.Listen(hostOf(d.public), 0)
	if err != nil {
		d.log.WithError(err).Error("falha ao alocar endpoint privado para upload")
		return
	}
	port := priv.Port()
	if _, err := d.public.SendTo(wire.EncodeUploadOK(port), addr); err != nil {
		d.log.WithError(err).Warn("falha ao responder UPLOAD_OK")
	}

	spec := session.Spec{
		Peer:     addr,
		Role:     session.RoleUpload,
		Protocol: in.Protocol,
		Filename: in.Filename,
		Filesize: in.Filesize,
		BaseDir:  d.baseDir,
	}
	d.spawn(ctx, spec, priv)
}

func (d *Dispatcher) acceptDownload(ctx context.Context, in wire.Initiation, addr net.Addr) {
	path := filepath.Join(d.baseDir, filepath.Base(in.Filename))
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		if _, err := d.public.SendTo(wire.EncodeFileNotFound(), addr); err != nil {
			d.log.WithError(err).Warn("falha ao responder ERROR:FileNotFound")
		}
		return
	}

	priv, err := datagram.Listen(hostOf(d.public), 0)
	if err != nil {
		d.log.WithError(err).Error("falha ao alocar endpoint privado para download")
		return
	}
	port := priv.Port()
	if _, err := d.public.SendTo(wire.EncodeDownloadOK(port, st.Size()), addr); err != nil {
		d.log.WithError(err).Warn("falha ao responder DOWNLOAD_OK")
	}

	spec := session.Spec{
		Peer:     addr,
		Role:     session.RoleDownload,
		Protocol: in.Protocol,
		Filename: in.Filename,
		Filesize: st.Size(),
		BaseDir:  d.baseDir,
	}
	d.spawn(ctx, spec, priv)
}

func (d *Dispatcher) spawn(ctx context.Context, spec session.Spec, priv datagram.Endpoint) {
	d.wg.Add(1)
	d.metrics.AddSession()
	w := session.New(spec, priv, d.log)
	go func() {
		defer d.wg.Done()
		outcome := w.Run(ctx)
		d.metrics.RemoveSession(outcome.Bytes, !outcome.Success)
	}()
}

func (d *Dispatcher) replyList(addr net.Addr) {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	_, _ = d.public.SendTo(wire.EncodeListReply(names), addr)
}

func hostOf(ep datagram.Endpoint) string {
	a := ep.LocalAddr().String()
	if idx := strings.LastIndex(a, ":"); idx >= 0 {
		return a[:idx]
	}
	return a
}
