// Package metrics coleta contadores agregados do servidor: sessões totais
// e ativas, bytes transferidos, erros — sem nenhuma dependência de UI.
//
// Adaptado de ServerMetrics do professor (internal/metrics): o histórico de
// pontos para gráficos (ConnectionHistory, SpeedHistory) era consumido
// exclusivamente pela GUI Fyne, fora de escopo aqui; os contadores atômicos
// de sessões/bytes/erros sobrevivem porque o dispatcher os expõe por log
// estruturado.
package metrics

import (
	"sync/atomic"
	"time"
)

// ServerMetrics agrega contadores de todo o ciclo de vida do servidor.
type ServerMetrics struct {
	totalSessions  uint64
	activeSessions int64
	totalBytes     uint64
	totalErrors    uint64
	startTime      time.Time
}

// New cria um agregador de métricas com o relógio zerado em now.
func New() *ServerMetrics {
	return &ServerMetrics{startTime: time.Now()}
}

// AddSession registra o início de uma sessão.
func (m *ServerMetrics) AddSession() {
	atomic.AddUint64(&m.totalSessions, 1)
	atomic.AddInt64(&m.activeSessions, 1)
}

// RemoveSession registra o término de uma sessão (sucesso ou falha).
func (m *ServerMetrics) RemoveSession(bytesTransferred int64, failed bool) {
	atomic.AddInt64(&m.activeSessions, -1)
	if bytesTransferred > 0 {
		atomic.AddUint64(&m.totalBytes, uint64(bytesTransferred))
	}
	if failed {
		atomic.AddUint64(&m.totalErrors, 1)
	}
}

// Snapshot é uma visão imutável e livre de corrida dos contadores correntes.
type Snapshot struct {
	TotalSessions  uint64
	ActiveSessions int64
	TotalBytes     uint64
	TotalErrors    uint64
	Uptime         time.Duration
}

// Snapshot captura o estado corrente dos contadores.
func (m *ServerMetrics) Snapshot() Snapshot {
	return Snapshot{
		TotalSessions:  atomic.LoadUint64(&m.totalSessions),
		ActiveSessions: atomic.LoadInt64(&m.activeSessions),
		TotalBytes:     atomic.LoadUint64(&m.totalBytes),
		TotalErrors:    atomic.LoadUint64(&m.totalErrors),
		Uptime:         time.Since(m.startTime),
	}
}
