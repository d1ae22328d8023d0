package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Canal Redis compartilhado entre as instâncias da API.
const canalRedis = "portaria:eventos"

const reconexaoEspera = 2 * time.Second

// Ponte liga o bus em processo ao pub/sub do Redis: eventos locais são
// publicados no canal e eventos do canal reentram no bus local. É a
// única peça que conhece o transporte.
type Ponte struct {
	client *redis.Client
	bus    *Bus
}

// NewPonte cria a ponte sobre o cliente e o bus informados.
func NewPonte(client *redis.Client, bus *Bus) *Ponte {
	return &Ponte{client: client, bus: bus}
}

// Publicar propaga o evento localmente e para as demais instâncias.
// Falha de transporte não interrompe o fluxo local.
func (p *Ponte) Publicar(ctx context.Context, ev Evento) {
	p.bus.Publicar(ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("eventos: falha ao serializar")
		return
	}
	if err := p.client.Publish(ctx, canalRedis, payload).Err(); err != nil {
		log.Warn().Err(err).Msg("eventos: falha ao publicar no redis")
	}
}

// Executar mantém a assinatura do canal Redis viva até o contexto
// encerrar. Queda de conexão gera aviso, espera e reassinatura; os
// consumidores locais seguem assinados no bus o tempo todo.
func (p *Ponte) Executar(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sub := p.client.Subscribe(ctx, canalRedis)
		p.escutar(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Msg("eventos: assinatura redis caiu, reassinando")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconexaoEspera):
		}
	}
}

func (p *Ponte) escutar(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Evento
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("eventos: payload inválido no canal")
				continue
			}
			p.bus.Publicar(ev)
		}
	}
}
