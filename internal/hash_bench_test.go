package internal

import (
	"fmt"
	"testing"
)

var hashInputs = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Googlebot/2.1 (+http://www.google.com/bot.html)",
	"5f2b9c0e8d7a4b61a3c2e1f0d9b8a7c6",
	"192.168.1.0/24",
	"2001:db8::/32",
}

func TestShardBounds(t *testing.T) {
	for _, n := range []int{1, 7, 32} {
		for _, in := range hashInputs {
			got := Shard(in, n)
			if got < 0 || got >= n {
				t.Errorf("Shard(%q, %d) = %d, out of range", in, n, got)
			}
			if again := Shard(in, n); again != got {
				t.Errorf("Shard(%q, %d) is not stable: %d != %d", in, n, got, again)
			}
		}
	}
}

func TestFastHashDiffers(t *testing.T) {
	seen := map[string]string{}
	for _, in := range hashInputs {
		h := FastHash(in)
		if prev, ok := seen[h]; ok {
			t.Errorf("FastHash collision between %q and %q", prev, in)
		}
		seen[h] = in
	}
}

func BenchmarkSHA256(b *testing.B) {
	for i, in := range hashInputs {
		b.Run(fmt.Sprintf("input-%d", i), func(b *testing.B) {
			for b.Loop() {
				_ = SHA256sum(in)
			}
		})
	}
}

func BenchmarkFastHash(b *testing.B) {
	for i, in := range hashInputs {
		b.Run(fmt.Sprintf("input-%d", i), func(b *testing.B) {
			for b.Loop() {
				_ = FastHash(in)
			}
		})
	}
}
