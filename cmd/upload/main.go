// Cliente de upload: realiza o handshake com o servidor e envia um arquivo
// local sob o protocolo de recuperação escolhido, um processo de execução
// única por transferência.
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
	src := flag.String("s", "", "source file path")
	name := flag.String("n", "", "remote file name (defaults to the source file's base name)")
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
	log := xferlog.New("upload", level)

	if *src == "" {
		fmt.Fprintln(os.Stderr, "-s (source file path) é obrigatório")
		os.Exit(cliutil.ExitUsage)
	}
	remoteName := *name
	if remoteName == "" {
		remoteName = filepath.Base(*src)
	}
	for _, check := range []error{
		cliutil.ValidateHost(*host),
		cliutil.ValidatePort(*port),
		cliutil.ValidateFilePath(remoteName),
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

	f, err := os.Open(*src)
	if err != nil {
		log.WithError(err).Error("não foi possível abrir o arquivo de origem")
		os.Exit(cliutil.ExitFailure)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		log.WithError(err).Error("não foi possível inspecionar o arquivo de origem")
		os.Exit(cliutil.ExitFailure)
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
		Role:     wire.RoleUpload,
		Protocol: *protocol,
		Filename: remoteName,
		Filesize: st.Size(),
	})
	replyBytes, err := cliutil.DoHandshake(pub, initFrame)
	if err != nil {
		log.WithError(err).Error("handshake de upload falhou")
		os.Exit(cliutil.ExitFailure)
	}
	reply, err := wire.DecodeReply(replyBytes)
	if err != nil || !reply.OK {
		log.Error("resposta de handshake inesperada")
		os.Exit(cliutil.ExitFailure)
	}

	session, err := datagram.Dial(*host, reply.Port)
	if err != nil {
		log.WithError(err).Error("não foi possível conectar ao endpoint de sessão")
		os.Exit(cliutil.ExitFailure)
	}
	defer session.Close()

	log.WithField("bytes", st.Size()).WithField("protocol", *protocol).Info("enviando arquivo")
	start := time.Now()
	engine := reliability.ForProtocol(*protocol)
	if err := engine.Send(ctx, session, nil, f, st.Size(), log); err != nil {
		log.WithError(err).Error("upload falhou")
		os.Exit(cliutil.ExitFailure)
	}
	elapsed := time.Since(start)
	log.WithField("elapsed", elapsed).WithField("bytes", st.Size()).Info("upload concluído")
}
