// Command synctest exercises the device-side sync core against a running
// messaging server: it connects the live channel, joins a thread, sends
// messages through the delivery pipeline and reports what came back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/client"
	"github.com/NahoooMac/wedhabesha-sub005/internal/config"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
)

func main() {
	host := flag.String("host", "localhost:8460", "API server host")
	token := flag.String("token", "", "JWT for the test user (required)")
	threadID := flag.Uint("thread", 0, "Thread to send into (required)")
	interval := flag.Duration("interval", 2*time.Second, "Delay between sends")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	queueCap := flag.Int("queue-cap", 0, "Offline queue capacity (0 = OFFLINE_QUEUE_CAP from config)")
	flag.Parse()

	if *token == "" || *threadID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	capacity := *queueCap
	if capacity <= 0 {
		capacity = client.DefaultQueueCap
		if cfg, err := config.LoadConfig(); err == nil {
			capacity = cfg.OfflineQueueCap
		}
	}

	var sent, confirmed, failed, received int64

	conn := client.NewConnectionManager("ws://"+*host, nil)
	conn.OnEvent(func(ev client.Event) {
		atomic.AddInt64(&received, 1)
	})
	unsubscribe := conn.OnConnectionChange(func(s client.ConnectionState) {
		log.Printf("connection: %s (attempts=%d)", s.State, s.ReconnectAttempts)
	})
	defer unsubscribe()

	sender := client.NewAPISender("http://"+*host, *token)
	pipeline := client.NewPipeline(sender, conn, capacity, func(msg *models.Message) {
		switch msg.Status {
		case models.StatusSent, models.StatusDelivered:
			atomic.AddInt64(&confirmed, 1)
		case models.StatusFailed:
			atomic.AddInt64(&failed, 1)
		}
	}, nil)
	defer pipeline.Close()

	if err := conn.Connect(*token); err != nil {
		log.Printf("initial connect failed, composing offline: %v", err)
	}
	conn.JoinThread(*threadID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	deadline := time.After(*duration)

	i := 0
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-interrupt:
			break loop
		case <-ticker.C:
			i++
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := pipeline.Send(ctx, *threadID, fmt.Sprintf("sync test message %d", i), models.KindText, nil)
			cancel()
			if err != nil {
				log.Printf("send rejected: %v", err)
				continue
			}
			atomic.AddInt64(&sent, 1)

			conn.EmitTyping(*threadID, true)
		}
	}

	conn.Disconnect()

	log.Println("Results")
	log.Printf("  sent:      %d", atomic.LoadInt64(&sent))
	log.Printf("  confirmed: %d", atomic.LoadInt64(&confirmed))
	log.Printf("  failed:    %d", atomic.LoadInt64(&failed))
	log.Printf("  queued:    %d", pipeline.Queue().Size())
	log.Printf("  received:  %d", atomic.LoadInt64(&received))
}
