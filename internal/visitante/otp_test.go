package visitante

import (
	"regexp"
	"strconv"
	"testing"
)

func TestGerarOTPFormato(t *testing.T) {
	padrao := regexp.MustCompile(`^[1-9][0-9]{5}$`)

	for i := 0; i < 1000; i++ {
		codigo, err := GerarOTP()
		if err != nil {
			t.Fatalf("gerar: %v", err)
		}
		if !padrao.MatchString(codigo) {
			t.Fatalf("código fora do formato: %q", codigo)
		}
		n, err := strconv.Atoi(codigo)
		if err != nil {
			t.Fatalf("código não numérico: %q", codigo)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("código fora da faixa: %d", n)
		}
	}
}

func TestGerarOTPDispersao(t *testing.T) {
	const amostras = 10000

	vistos := make(map[string]int, amostras)
	for i := 0; i < amostras; i++ {
		codigo, err := GerarOTP()
		if err != nil {
			t.Fatalf("gerar: %v", err)
		}
		vistos[codigo]++
	}

	// Com 900 mil códigos possíveis, 10 mil sorteios repetem pouco.
	if len(vistos) < amostras*98/100 {
		t.Fatalf("dispersão baixa: %d códigos distintos em %d sorteios", len(vistos), amostras)
	}
	for codigo, n := range vistos {
		if n > 4 {
			t.Fatalf("código %q sorteado %d vezes", codigo, n)
		}
	}
}
