package events

import (
	"sync"

	"github.com/google/uuid"
)

// Tipos de mutação propagados.
const (
	TipoInsert = "INSERT"
	TipoUpdate = "UPDATE"
	TipoDelete = "DELETE"
)

// Evento descreve uma mutação observada em uma tabela de interesse.
// Carrega só o necessário para o assinante decidir recarregar.
type Evento struct {
	Tabela  string    `json:"tabela"`
	Tipo    string    `json:"tipo"`
	ID      uuid.UUID `json:"id"`
	Unidade string    `json:"unidade,omitempty"`
}

// Bus distribui eventos em processo. Os produtores não conhecem o
// transporte externo e os consumidores não conhecem os produtores;
// trocar o mecanismo de entrega não toca nenhum dos dois lados.
type Bus struct {
	mu     sync.Mutex
	seq    int
	assina map[int]chan Evento
}

// NewBus cria um bus vazio.
func NewBus() *Bus {
	return &Bus{assina: map[int]chan Evento{}}
}

// Publicar entrega o evento a todos os assinantes ativos. Assinante
// com buffer cheio perde o evento em vez de travar o publicador;
// consumidores tratam eventos como dica de recarga, não como estado.
func (b *Bus) Publicar(ev Evento) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.assina {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Assinar registra um consumidor e devolve o canal de eventos junto
// com a função de cancelamento. Após o cancelamento nenhum evento é
// entregue e o canal é fechado.
func (b *Bus) Assinar(buffer int) (<-chan Evento, func()) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	ch := make(chan Evento, buffer)
	b.assina[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.assina, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Assinantes devolve o número de consumidores ativos.
func (b *Bus) Assinantes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.assina)
}
