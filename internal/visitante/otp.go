package visitante

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	otpMinimo = 100000
	otpFaixa  = 900000
)

// GerarOTP sorteia o código de admissão: seis dígitos, uniforme em
// 100000..999999, sem zero à esquerda. O código é uma senha de um dia,
// curta o bastante para ditar no interfone; o rate limit da API cobre
// a adivinhação por força bruta.
func GerarOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpFaixa))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpMinimo, 10), nil
}
