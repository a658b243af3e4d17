// Command bench measures the single-writer/many-readers story the
// versioned index is built for: one goroutine continuously commits small
// transactions while N goroutines hammer Read concurrently, and the tool
// reports reader throughput and latency percentiles. This replaces the
// teacher's network-bound MultiPut load generator, which has no analogue
// here since the storage core is an embedded library, not a gRPC service.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodevein/ledgerkv/engine"
)

func main() {
	readers := flag.Int("readers", 8, "number of concurrent reader goroutines")
	duration := flag.Duration("duration", 3*time.Second, "how long to run the benchmark")
	keySpace := flag.Int("keys", 1000, "number of distinct keys the writer cycles through")
	valueBytes := flag.Int("value-bytes", 256, "value size in bytes")
	walDir := flag.String("dir", "", "directory for the benchmark WAL file (defaults to a temp dir)")

	flag.Parse()

	dir := *walDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "ledgerkv-bench-")
		if err != nil {
			log.Fatalf("mkdir temp: %v", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	walPath := filepath.Join(dir, "bench.wal")

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	e, err := engine.Open(walPath, engine.Options{Logger: logger})
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer e.Close()

	value := make([]byte, *valueBytes)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(value)

	stop := make(chan struct{})
	var writerCommits int64

	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			key := []byte(fmt.Sprintf("k-%d", i%*keySpace))
			tx, err := e.Begin()
			if err != nil {
				log.Printf("writer begin error: %v", err)
				continue
			}
			if err := tx.Put(key, value); err != nil {
				_ = tx.Abort()
				log.Printf("writer put error: %v", err)
				continue
			}
			if err := tx.Commit(); err != nil {
				log.Printf("writer commit error: %v", err)
				continue
			}
			atomic.AddInt64(&writerCommits, 1)
		}
	}()

	var (
		mu         sync.Mutex
		latencies  []time.Duration
		readsTotal int64
	)

	var wg sync.WaitGroup
	for r := 0; r < *readers; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := []byte(fmt.Sprintf("k-%d", rng.Intn(*keySpace)))
				start := time.Now()
				_, _ = e.Read(key)
				elapsed := time.Since(start)

				atomic.AddInt64(&readsTotal, 1)
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(int64(r) + 1)
	}

	time.Sleep(*duration)
	close(stop)
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := percentile(latencies, 0.50)
	p99 := percentile(latencies, 0.99)

	seconds := duration.Seconds()
	fmt.Println("=== ledgerkv read/write benchmark ===")
	fmt.Printf("Readers:          %d\n", *readers)
	fmt.Printf("Duration:         %s\n", *duration)
	fmt.Printf("Writer commits:   %d (%.2f commits/s)\n", writerCommits, float64(writerCommits)/seconds)
	fmt.Printf("Reads:            %d (%.2f reads/s)\n", readsTotal, float64(readsTotal)/seconds)
	fmt.Printf("Read p50 latency: %s\n", p50)
	fmt.Printf("Read p99 latency: %s\n", p99)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
