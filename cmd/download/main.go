// Cliente de download: realiza o handshake com o servidor e recebe um
// arquivo remoto sob o protocolo de recuperação escolhido, gravando-o
// localmente.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iLukSbr/reliable-udp-transfer/internal/cliutil"
	"github.com/iLukSbr/reliable-udp-transfer/internal/datagram"
	"github.com/iLukSbr/reliable-udp-transfer/internal/reliability"
	"github.com/iLukSbr/reliable-udp-transfer/internal/wire"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xferlog"
)

func main() {
	host := flag.String("H", "127.0.0.1", "server IP address")
	port := flag.Int("p", 19000, "server UDP port")
	dst := flag.String("d", ".", "destination directory path")
	name := flag.String("n", "", "remote file name to request")
	protocol := flag.String("r", wire.ProtocolStopAndWait, "error recovery protocol (stop-and-wait|selective-repeat)")
	verbose := flag.Bool("v", false, "increase output verbosity")
	quiet := flag.Bool("q", false, "decrease output verbosity")
	flag.Parse()

	if *verbose && *quiet {
		fmt.Fprintln(os.Stderr, "-v e -q são mutuamente exclusivos")
		os.Exit(cliutil.ExitUsage)
	}
	level := "info"
	if *verbose {
		level = "debug"
	} else if *quiet {
		level = "quiet"
	}
	log := xferlog.New("download", level)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "-n (remote file name) é obrigatório")
		os.Exit(cliutil.ExitUsage)
	}
	for _, check := range []error{
		cliutil.ValidateHost(*host),
		cliutil.ValidatePort(*port),
		cliutil.ValidateFilePath(*name),
	} {
		if check != nil {
			log.WithError(check).Error("argumento inválido")
			os.Exit(cliutil.ExitUsage)
		}
	}
	if err := cliutil.ValidateProtocolName(*protocol, wire.ValidProtocol); err != nil {
		log.WithError(err).Error("protocolo inválido")
		os.Exit(cliutil.ExitUsage)
	}
	if st, err := os.Stat(*dst); err != nil || !st.IsDir() {
		log.WithField("dst", *dst).Error("diretório de destino inválido")
		os.Exit(cliutil.ExitUsage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pub, err := datagram.Dial(*host, *port)
	if err != nil {
		log.WithError(err).Error("não foi possível contatar o servidor")
		os.Exit(cliutil.ExitFailure)
	}
	defer pub.Close()

	initFrame := wire.EncodeInitiation(wire.Initiation{
		Role:     wire.RoleDownload,
		Protocol: *protocol,
		Filename: *name,
	})
	replyBytes, err := cliutil.DoHandshake(pub, initFrame)
	if err != nil {
		log.WithError(err).Error("handshake de download falhou")
		os.Exit(cliutil.ExitFailure)
	}
	reply, err := wire.DecodeReply(replyBytes)
	if err != nil {
		log.Error("resposta de handshake inesperada")
		os.Exit(cliutil.ExitFailure)
	}
	if reply.NotFound {
		log.WithField("file", *name).Error("arquivo não encontrado no servidor")
		os.Exit(cliutil.ExitFailure)
	}
	if !reply.OK {
		log.Error("servidor recusou o download")
		os.Exit(cliutil.ExitFailure)
	}

	outPath := filepath.Join(*dst, filepath.Base(*name))
	out, err := os.Create(outPath)
	if err != nil {
		log.WithError(err).Error("não foi possível criar o arquivo de destino")
		os.Exit(cliutil.ExitFailure)
	}
	defer out.Close()

	session, err := datagram.Dial(*host, reply.Port)
	if err != nil {
		log.WithError(err).Error("não foi possível conectar ao endpoint de sessão")
		os.Exit(cliutil.ExitFailure)
	}
	defer session.Close()

	// O servidor vai enviar os dados sem nada antes a observar no endpoint
	// privado recém-alocado: sonda primeiro para que ele aprenda o endereço
	// deste socket de sessão (diferente do endereço visto no handshake).
	if err := cliutil.DoSessionHandshake(session); err != nil {
		log.WithError(err).Error("sondagem de sessão com o servidor falhou")
		os.Exit(cliutil.ExitFailure)
	}

	log.WithField("bytes", reply.Filesize).WithField("protocol", *protocol).Info("recebendo arquivo")
	start := time.Now()
	engine := reliability.ForProtocol(*protocol)
	if err := engine.Receive(ctx, session, nil, out, reply.Filesize, log); err != nil {
		log.WithError(err).Error("download falhou")
		os.Exit(cliutil.ExitFailure)
	}
	elapsed := time.Since(start)
	log.WithField("elapsed", elapsed).WithField("bytes", reply.Filesize).WithField("path", outPath).Info("download concluído")
}
