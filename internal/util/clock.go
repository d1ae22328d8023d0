package util

import "time"

// Now devolve o instante atual em UTC; ponto único para facilitar testes.
func Now() time.Time {
	return time.Now().UTC()
}
