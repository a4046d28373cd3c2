package expressions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/load"
)

// loadAvg caches the system load average so CEL programs never make a
// syscall on the request path.
type loadAvg struct {
	lock sync.RWMutex
	data load.AvgStat
}

func (l *loadAvg) updateThread(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	l.update()

	for {
		select {
		case <-ticker.C:
			l.update()
		case <-ctx.Done():
			return
		}
	}
}

func (l *loadAvg) update() {
	avg, err := load.Avg()
	if err != nil {
		slog.Debug("can't get load average", "err", err)
		return
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	l.data = *avg
}

func (l *loadAvg) get() load.AvgStat {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.data
}

var globalLoadAvg = &loadAvg{}

func init() {
	go globalLoadAvg.updateThread(context.Background())
}

func Load1() float64  { return globalLoadAvg.get().Load1 }
func Load5() float64  { return globalLoadAvg.get().Load5 }
func Load15() float64 { return globalLoadAvg.get().Load15 }
