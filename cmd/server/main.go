// Servidor UDP de transferência confiável de arquivos: escuta num endpoint
// público e atende uploads e downloads concorrentes, um trabalhador por
// sessão, sob o protocolo de recuperação que cada cliente escolher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iLukSbr/reliable-udp-transfer/internal/cliutil"
	"github.com/iLukSbr/reliable-udp-transfer/internal/dispatch"
	"github.com/iLukSbr/reliable-udp-transfer/internal/xferlog"
)

func main() {
	host := flag.String("H", "127.0.0.1", "IP address to bind")
	port := flag.Int("p", 19000, "UDP port to bind")
	storage := flag.String("s", "storage", "storage directory path")
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
	log := xferlog.New("server", level)

	if err := cliutil.ValidateHost(*host); err != nil {
		log.WithError(err).Error("host inválido")
		os.Exit(cliutil.ExitUsage)
	}
	if err := cliutil.ValidatePort(*port); err != nil {
		log.WithError(err).Error("porta inválida")
		os.Exit(cliutil.ExitUsage)
	}
	if st, err := os.Stat(*storage); err != nil {
		if !os.IsNotExist(err) {
			log.WithField("storage", *storage).WithError(err).Error("diretório de armazenamento inválido")
			os.Exit(cliutil.ExitUsage)
		}
		if err := os.MkdirAll(*storage, 0755); err != nil {
			log.WithField("storage", *storage).WithError(err).Error("falha ao criar diretório de armazenamento")
			os.Exit(cliutil.ExitFailure)
		}
	} else if !st.IsDir() {
		log.WithField("storage", *storage).Error("caminho de armazenamento não é um diretório")
		os.Exit(cliutil.ExitUsage)
	}

	d, err := dispatch.New(*host, *port, *storage, log)
	if err != nil {
		log.WithError(err).Error("falha ao abrir endpoint público")
		os.Exit(cliutil.ExitFailure)
	}
	log.WithField("addr", d.Addr()).WithField("storage", *storage).Info("servidor escutando")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := d.Metrics()
				log.WithField("sessions_total", snap.TotalSessions).
					WithField("sessions_active", snap.ActiveSessions).
					WithField("bytes_total", snap.TotalBytes).
					WithField("errors_total", snap.TotalErrors).
					Debug("métricas do servidor")
			}
		}
	}()

	d.Run(ctx)
	log.Info("servidor encerrado")
}
