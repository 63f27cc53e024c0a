package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/config"
	"github.com/wudi/colorkit/convert"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/task"
	"github.com/wudi/colorkit/workerpool"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	profile := flag.String("profile", "", "destination CMYK profile (default: uncalibrated)")
	tasks := flag.Int("tasks", 32, "tasks to submit")
	pixels := flag.Int("pixels", 1<<16, "pixels per task")
	iterations := flag.Int("iterations", 4, "conversions per task")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	logger := cfg.NewLogger(os.Stderr)
	rules, err := cfg.RuleSet()
	if err != nil {
		panic(err)
	}
	profiles := cfg.ProfilePool(logger)

	var dst []byte
	if *profile != "" {
		if dst, err = os.ReadFile(*profile); err != nil {
			panic(err)
		}
	} else {
		dst = cmm.NewProfileBuilder("prtr", "CMYK", "Lab ").Tag("desc", cmm.TextTagData("uncalibrated cmyk")).Bytes()
	}

	engine := cmm.NewEngine(cfg.EngineConfig(logger))
	defer engine.Close()
	conv, err := cfg.NewConverter(engine, rules, profiles, logger)
	if err != nil {
		panic(err)
	}
	defer conv.Close()

	pool := cfg.NewWorkerPool(rules, profiles, logger)
	start := time.Now()
	if err := pool.Initialize(context.Background()); err != nil {
		panic(err)
	}
	defer pool.Terminate()
	if err := pool.BroadcastSharedProfiles(map[string][]byte{"destination": dst}); err != nil {
		panic(err)
	}
	fmt.Printf("pool %s: %d contexts ready in %s\n", pool.ID(), pool.Size(), time.Since(start))

	opts := convert.Options{
		Options: format.Options{
			InputColorSpace:  format.RGB,
			OutputColorSpace: format.CMYK,
			BitsPerComponent: 8,
		},
		SourceProfile:          cmm.SRGBSource(),
		DestinationProfile:     cmm.BytesSource(dst),
		RenderingIntent:        cmm.IntentRelativeColorimetric,
		BlackPointCompensation: true,
	}
	rng := rand.New(rand.NewSource(1))
	start = time.Now()
	var results []<-chan *task.Result
	for i := 0; i < *tasks; i++ {
		buf := make([]byte, *pixels*3)
		rng.Read(buf)
		t := conv.PrepareTask(convert.TaskInput{Type: task.TypeBenchmark, Options: opts, Pixels: buf, Iterations: *iterations})
		if t == nil {
			panic("benchmark task has no worker form")
		}
		ch, err := pool.SubmitTask(t)
		if err != nil {
			panic(err)
		}
		results = append(results, ch)
	}

	var busy time.Duration
	failed := 0
	for _, ch := range results {
		res, err := workerpool.Await(context.Background(), ch)
		if err != nil {
			panic(err)
		}
		if !res.Success {
			failed++
			fmt.Printf("task %d: %s\n", res.ID, res.Error)
			continue
		}
		busy += res.Duration
	}
	wall := time.Since(start)
	total := *tasks * *pixels * *iterations
	fmt.Printf("%d tasks, %d failed, %d pixels in %s (%.1f Mpx/s, worker time %s)\n",
		*tasks, failed, total, wall, float64(total)/wall.Seconds()/1e6, busy)
}
