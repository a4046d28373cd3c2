package trust

import (
	"errors"
	"testing"

	"github.com/uvensys/miaoeyes/lib/config"
	"github.com/uvensys/miaoeyes/lib/policy/expressions"
)

func TestDecide(t *testing.T) {
	for _, tt := range []struct {
		name    string
		av      config.AutoVerify
		signals Signals
		human   bool
	}{
		{
			name:    "threshold met",
			av:      config.AutoVerify{Threshold: 0.7, Weights: config.DefaultWeights()},
			signals: human(),
			human:   true,
		},
		{
			name:    "threshold missed",
			av:      config.AutoVerify{Threshold: 0.7, Weights: config.DefaultWeights()},
			signals: Signals{UserAgent: firefox, ScreenWidth: 1024},
		},
		{
			name: "expression overrides threshold",
			av: config.AutoVerify{
				Threshold:  0.99,
				Weights:    config.DefaultWeights(),
				Expression: &config.ExpressionOrList{Expression: `score >= 0.3 && "screenWidth" in signals`},
			},
			signals: Signals{UserAgent: firefox, ScreenWidth: 1024},
			human:   true,
		},
		{
			name: "expression can refuse",
			av: config.AutoVerify{
				Threshold:  0,
				Weights:    config.DefaultWeights(),
				Expression: &config.ExpressionOrList{Any: []string{`remoteAddress == "192.0.2.1"`}},
			},
			signals: human(),
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecider(tt.av)
			if err != nil {
				t.Fatal(err)
			}

			got, err := d.Decide(tt.signals)
			if err != nil {
				t.Fatal(err)
			}
			if got.Human != tt.human {
				t.Errorf("Human = %v, want %v (score %v)", got.Human, tt.human, got.Score)
			}
		})
	}
}

func TestNewDeciderBadExpression(t *testing.T) {
	_, err := NewDecider(config.AutoVerify{
		Threshold:  0.7,
		Expression: &config.ExpressionOrList{Expression: `score`},
	})
	if !errors.Is(err, expressions.ErrNotBoolean) {
		t.Fatalf("want ErrNotBoolean, got %v", err)
	}
}

func TestCache(t *testing.T) {
	var c Cache
	good := config.AutoVerify{Threshold: 0.5, Weights: config.DefaultWeights()}

	first, err := c.For(1, good)
	if err != nil {
		t.Fatal(err)
	}

	if again, _ := c.For(1, config.AutoVerify{Threshold: 0.1}); again != first {
		t.Error("same version was rebuilt")
	}

	broken := good
	broken.Expression = &config.ExpressionOrList{Expression: `nope(`}
	kept, err := c.For(2, broken)
	if err == nil {
		t.Fatal("want compile error")
	}
	if kept != first {
		t.Error("broken version did not keep the previous decider")
	}
}
