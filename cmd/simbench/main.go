// simbench drives a synthetic workload through one container and reports
// tick and snapshot timings.
//
// Usage:
//
//	go run ./cmd/simbench [-entities n] [-matches n] [-ticks n] [-mutations n] [-interval d] [-seed n]
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
	"github.com/matchforge/engine/internal/modules/health"
	"github.com/matchforge/engine/internal/modules/movement"
)

func main() {
	var (
		entities  = flag.Int("entities", 500, "entities spread across the matches")
		matches   = flag.Int("matches", 4, "concurrent matches")
		ticks     = flag.Int("ticks", 1000, "ticks to run")
		mutations = flag.Int("mutations", 32, "set_velocity commands submitted per tick")
		interval  = flag.Duration("interval", 0, "pause between ticks (0 runs flat out)")
		seed      = flag.Int64("seed", 1, "workload rng seed")
	)
	flag.Parse()

	if err := run(*entities, *matches, *ticks, *mutations, *interval, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "simbench: %v\n", err)
		os.Exit(1)
	}
}

func run(entities, matches, ticks, mutations int, interval time.Duration, seed int64) error {
	c, err := container.New(container.Options{
		ID:  "bench",
		Log: zap.NewNop(),
		Limits: container.Limits{
			MaxEntities:        entities + 16,
			MaxCommandsPerTick: mutations + 16,
		},
		Modules: []*module.Module{movement.New(), health.New()},
	})
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))

	ids := make([]uint64, 0, entities)
	for i := 0; i < matches; i++ {
		m, err := c.CreateMatch(fmt.Sprintf("bench-%d", i))
		if err != nil {
			return err
		}
		for j := 0; j < entities/matches; j++ {
			e, err := c.CreateEntityForMatch(m.ID)
			if err != nil {
				return err
			}
			err = c.Store().AttachBatch(e,
				[]store.Component{
					movement.Flag, movement.PositionX, movement.PositionY,
					health.Flag, health.Health, health.MaxHealth, health.Regen,
				},
				[]float32{
					1, rng.Float32() * 100, rng.Float32() * 100,
					1, 100, 100, 0.5,
				})
			if err != nil {
				return err
			}
			ids = append(ids, e)
		}
	}

	fmt.Printf("entities %d  matches %d  ticks %d  mutations/tick %d\n\n",
		len(ids), matches, ticks, mutations)

	begin := time.Now()
	for t := 0; t < ticks; t++ {
		for i := 0; i < mutations && i < len(ids); i++ {
			e := ids[rng.Intn(len(ids))]
			err := c.Submit("set_velocity", module.Payload{
				"entity": float64(e),
				"vx":     rng.Float64()*2 - 1,
				"vy":     rng.Float64()*2 - 1,
			})
			if err != nil {
				return fmt.Errorf("tick %d: %w", t, err)
			}
		}
		if err := c.Advance(); err != nil {
			return fmt.Errorf("tick %d: %w", t, err)
		}
		if interval > 0 {
			time.Sleep(interval)
		}
	}
	elapsed := time.Since(begin)

	v := c.Stats()
	fmt.Printf("elapsed            %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("ticks/sec          %.0f\n", float64(ticks)/elapsed.Seconds())
	fmt.Printf("avg tick           %s\n", v.AvgTickDuration)
	fmt.Printf("max tick           %s\n", v.MaxTickDuration)
	fmt.Printf("commands executed  %d (failed %d)\n", v.CommandsExecuted, v.CommandsFailed)
	fmt.Printf("snapshot passes    %d\n", v.Snapshots.Generations)
	fmt.Printf("  cache hits       %d\n", v.Snapshots.CacheHits)
	fmt.Printf("  incremental      %d\n", v.Snapshots.Incremental)
	fmt.Printf("  full rebuilds    %d\n", v.Snapshots.FullRebuilds)
	fmt.Printf("  max pass         %s\n", v.Snapshots.MaxDuration)

	return c.Stop()
}
