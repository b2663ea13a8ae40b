// Worker consumes security events from Kafka and ships them to Loki for
// long-term search. It commits offsets only after a successful push, so a
// Loki outage replays events instead of dropping them.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"minutes-maker/backend/internal/config"
	"minutes-maker/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	brokers := cfg.SecurityKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.SecurityKafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("shutting down worker...")
		cancel()
	}()

	log.Printf("security worker consuming %s from %v", cfg.SecurityKafkaTopic, brokers)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Printf("worker: fetch: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		err = loki.PushEventJSON(pushCtx, cfg.LokiURL, msg.Value)
		pushCancel()
		if err != nil {
			// Leave the offset uncommitted; the event is retried on the
			// next fetch rather than lost.
			log.Printf("worker: push to loki: %v", err)
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Printf("worker: commit: %v", err)
		}
	}
	log.Println("worker stopped")
}
