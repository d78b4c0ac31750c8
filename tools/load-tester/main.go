package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	redissource "github.com/V4T54L/azmon-forwarder/internal/adapter/source/redis"
)

var categories = []string{"kube-audit", "kube-apiserver", "AppTraces", "Administrative"}

// syntheticMessage builds an Azure Monitor export message with a mix of
// log, metric and unclassified records.
func syntheticMessage(workerID, records int) []byte {
	recs := make([]map[string]any, 0, records)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := 0; i < records; i++ {
		switch rand.Intn(4) {
		case 0:
			recs = append(recs, map[string]any{
				"time":       now,
				"metricName": "Percentage CPU",
				"total":      rand.Float64() * 100,
				"resourceId": fmt.Sprintf("/subscriptions/load/vm-%d", workerID),
			})
		case 1:
			logLine, _ := json.Marshal(map[string]any{"verb": "get", "requestID": uuid.NewString()})
			recs = append(recs, map[string]any{
				"time":       now,
				"category":   categories[rand.Intn(2)],
				"properties": map[string]any{"log": string(logLine), "pod": fmt.Sprintf("pod-%d", workerID)},
			})
		case 2:
			props, _ := json.Marshal(map[string]any{"message": "load test trace", "severityLevel": 1})
			recs = append(recs, map[string]any{
				"time":       now,
				"category":   categories[2+rand.Intn(2)],
				"properties": string(props),
			})
		default:
			recs = append(recs, map[string]any{"time": now, "operationName": "load/test", "worker": workerID})
		}
	}
	msg, _ := json.Marshal(map[string]any{"records": recs})
	return msg
}

func main() {
	target := flag.String("target", "http", "Where to send messages: http or redis")
	targetURL := flag.String("url", "http://localhost:8080/EventHubTrigger", "Custom handler URL")
	redisURL := flag.String("redis-url", "redis://localhost:6379/0", "Redis URL for the redis target")
	stream := flag.String("stream", "azmon_messages", "Redis stream for the redis target")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 50, "Invocations per second limit")
	messages := flag.Int("messages", 4, "Messages per invocation")
	records := flag.Int("records", 20, "Records per message")
	flag.Parse()

	log.Printf("Starting load test against %s target", *target)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 10)

	var publisher *redissource.Source
	if *target == "redis" {
		opts, err := goredis.ParseURL(*redisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		client := goredis.NewClient(opts)
		defer client.Close()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		publisher, err = redissource.NewSource(ctx, client, nil, logger, *stream, "forwarders", "load-tester", 1, time.Second)
		if err != nil {
			log.Fatalf("failed to prepare redis stream: %v", err)
		}
	}

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 2 * time.Minute,
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				batch := make([]string, *messages)
				for j := range batch {
					batch[j] = string(syntheticMessage(workerID, *records))
				}

				if publisher != nil {
					failed := false
					for _, msg := range batch {
						if err := publisher.Publish(ctx, []byte(msg)); err != nil {
							failed = true
						}
					}
					if failed {
						errorCount.Add(1)
					} else {
						successCount.Add(1)
					}
					continue
				}

				payload, _ := json.Marshal(map[string]any{
					"Data":     map[string]any{"eventHubMessages": batch},
					"Metadata": map[string]any{},
				})
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(payload))
				if err != nil {
					continue // Should not happen
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Azure-Functions-InvocationId", uuid.NewString())

				resp, err := client.Do(req)
				if err != nil {
					errorCount.Add(1)
					continue
				}

				if resp.StatusCode == http.StatusOK {
					successCount.Add(1)
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	total := successCount.Load() + errorCount.Load()

	log.Println("Load test finished.")
	log.Printf("Total Invocations: %d", total)
	log.Printf("Successful: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", float64(total)/duration.Seconds())
}
