package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_tokens_issued",
		Help: "The number of verification tokens issued by challenge type",
	}, []string{"type"})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miaoeyes_token_validations",
		Help: "The number of token validations by result",
	}, []string{"result"})
)
