package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func recebe(t *testing.T, ch <-chan Evento) Evento {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("canal fechado antes do evento")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout esperando evento")
	}
	return Evento{}
}

func TestBusEntregaParaTodos(t *testing.T) {
	bus := NewBus()

	a, cancelA := bus.Assinar(4)
	defer cancelA()
	b, cancelB := bus.Assinar(4)
	defer cancelB()

	ev := Evento{Tabela: "visitantes", Tipo: TipoUpdate, ID: uuid.New(), Unidade: "B-203"}
	bus.Publicar(ev)

	if got := recebe(t, a); got != ev {
		t.Fatalf("assinante A recebeu %+v", got)
	}
	if got := recebe(t, b); got != ev {
		t.Fatalf("assinante B recebeu %+v", got)
	}
}

func TestBusCancelamentoEncerraEntrega(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Assinar(4)
	bus.Publicar(Evento{Tabela: "visitantes", Tipo: TipoInsert, ID: uuid.New()})
	recebe(t, ch)

	cancel()
	if bus.Assinantes() != 0 {
		t.Fatalf("assinantes = %d após cancelamento", bus.Assinantes())
	}

	// Publicações após o cancelamento nunca chegam ao canal.
	bus.Publicar(Evento{Tabela: "visitantes", Tipo: TipoDelete, ID: uuid.New()})
	if ev, ok := <-ch; ok {
		t.Fatalf("evento entregue após cancelamento: %+v", ev)
	}
}

func TestBusCancelamentoIdempotente(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Assinar(1)
	cancel()
	cancel() // não pode entrar em pânico
}

func TestBusBufferCheioNaoTrava(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Assinar(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publicar(Evento{Tabela: "avisos", Tipo: TipoInsert, ID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publicador travou com assinante lento")
	}

	// Ao menos o primeiro evento ficou no buffer.
	recebe(t, ch)
}
