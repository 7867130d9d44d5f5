// Package xferlog configura o logger estruturado compartilhado pelos
// drivers de linha de comando e pelo dispatcher.
//
// O professor mantinha um logger próprio (internal/logger) com níveis,
// cores ANSI e campos estruturados via prefixo textual. Aqui o mesmo
// formato de saída (timestamp, nível colorido, campos estruturados) é
// obtido através de logrus.TextFormatter, mantendo a API WithField/
// WithFields que o resto do código já espera de um *logrus.Entry.
package xferlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New cria um logger de texto colorido para stderr (a saída padrão do
// logrus), no nível dado ("debug", "info", "warn"/"warning", "error";
// "quiet" equivale a "error"; qualquer outro valor cai em "info").
func New(prefix string, level string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(parseLevel(level))
	entry := logrus.NewEntry(l)
	if prefix != "" {
		entry = entry.WithField("component", prefix)
	}
	return entry
}

// Discard retorna um logger que não escreve em lugar nenhum — usado por
// testes e por chamadores que não configuraram um logger explícito.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "quiet":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
