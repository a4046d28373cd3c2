package trust

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/policy/expressions"
)

var (
	ErrExpressionFailed = errors.New("trust: decision expression failed")

	scores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "miaoeyes_trust_score",
		Help:    "Trust scores computed for auto-verification requests",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

// Decision is the outcome of an auto-verification attempt.
type Decision struct {
	Score float64
	Human bool
}

// Decider turns signals into a Decision for one auto-verify configuration.
type Decider struct {
	threshold float64
	weights   config.Weights
	program   cel.Program
}

func NewDecider(av config.AutoVerify) (*Decider, error) {
	d := &Decider{
		threshold: av.Threshold,
		weights:   av.Weights,
	}

	if av.Expression == nil || av.Expression.Empty() {
		return d, nil
	}

	env, err := expressions.NewEnvironment()
	if err != nil {
		return nil, err
	}

	d.program, err = expressions.CompileExpression(env, *av.Expression)
	if err != nil {
		return nil, fmt.Errorf("can't compile auto-verify expression: %w", err)
	}

	return d, nil
}

// Decide scores s and applies the threshold, or the expression when one is
// configured. A failing expression never admits the client.
func (d *Decider) Decide(s Signals) (Decision, error) {
	score := Score(s, d.weights)
	scores.Observe(score)

	if d.program == nil {
		return Decision{Score: score, Human: IsHumanLikely(score, d.threshold)}, nil
	}

	out, _, err := d.program.Eval(map[string]any{
		"score":         score,
		"remoteAddress": s.RemoteAddress,
		"host":          s.Host,
		"userAgent":     s.UserAgent,
		"path":          s.Path,
		"headers":       expressions.HTTPHeaders{Header: s.Headers()},
		"signals":       s.activation(),
	})
	if err != nil {
		return Decision{Score: score}, fmt.Errorf("%w: %w", ErrExpressionFailed, err)
	}

	human, ok := out.Value().(bool)
	if !ok {
		return Decision{Score: score}, fmt.Errorf("%w: %w", ErrExpressionFailed, expressions.ErrNotBoolean)
	}

	return Decision{Score: score, Human: human}, nil
}

// Cache keeps the Decider for the most recent config version. A version
// whose expression fails to compile falls back to the previous Decider, or
// to the plain threshold when there is none.
type Cache struct {
	mu      sync.Mutex
	version uint64
	cur     *Decider
}

func (c *Cache) For(version uint64, av config.AutoVerify) (*Decider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil && c.version == version {
		return c.cur, nil
	}

	d, err := NewDecider(av)
	if err != nil {
		if c.cur == nil {
			c.cur = &Decider{threshold: av.Threshold, weights: av.Weights}
		}
		c.version = version
		return c.cur, err
	}

	c.version = version
	c.cur = d
	return d, nil
}
