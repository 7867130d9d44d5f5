// Package rtt implementa o estimador adaptativo de RTT compartilhado pelos
// dois protocolos de confiabilidade (Stop-and-Wait e Selective Repeat).
//
// Traduzido de original_source/src/lib/base_protocol.py (update_rtt /
// calculate_timeout): o original mantinha estimated_rtt como variável solta
// passada por todas as chamadas; aqui ele vira estado encapsulado num tipo,
// o que é mais idiomático em Go.
package rtt

import "time"

// Estimator mantém um RTT suavizado exponencialmente e deriva o timeout
// corrente a partir dele.
type Estimator struct {
	alpha      float64       // peso do RTT anterior (~0.7)
	k          float64       // multiplicador de margem (2.5 p/ Stop-and-Wait, 3 p/ Selective Repeat)
	min        time.Duration // T_min
	max        time.Duration // T_max
	estimated  time.Duration
	hasSample  bool
	currentTmo time.Duration
}

// New cria um estimador com os parâmetros dados. start é o timeout inicial
// usado antes da primeira amostra (T_start do protocolo chamador).
func New(alpha, k float64, min, max, start time.Duration) *Estimator {
	return &Estimator{alpha: alpha, k: k, min: min, max: max, currentTmo: clamp(start, min, max)}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Update incorpora uma nova amostra de RTT e recalcula o timeout corrente.
// Na primeira chamada, a estimativa é inicializada com a própria amostra.
func (e *Estimator) Update(sample time.Duration) {
	if !e.hasSample {
		e.estimated = sample
		e.hasSample = true
	} else {
		e.estimated = time.Duration(e.alpha*float64(e.estimated) + (1-e.alpha)*float64(sample))
	}
	e.currentTmo = clamp(time.Duration(float64(e.estimated)*e.k), e.min, e.max)
}

// Backoff aumenta multiplicativamente o timeout corrente após uma perda,
// respeitando o teto T_max. Usado pelo Stop-and-Wait a cada retransmissão.
func (e *Estimator) Backoff(factor float64) {
	e.currentTmo = clamp(time.Duration(float64(e.currentTmo)*factor), e.min, e.max)
}

// Timeout retorna o timeout corrente.
func (e *Estimator) Timeout() time.Duration { return e.currentTmo }
