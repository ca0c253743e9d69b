package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/quizrace/internal/domain"
)

// event-replay publishes synthetic answer_submitted events onto the
// game topic so the audit consumer can be exercised without running a
// full game. Elapsed times are drawn from a mix of plausible and
// bot-like distributions to trip the audit rules.

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "quiz-game-events", "Kafka topic")
	gameID := flag.String("game", "game1", "Game ID to stamp on events")
	participants := flag.Int("participants", 50, "Number of synthetic participants")
	eventsPerSecond := flag.Int("rate", 20, "Events per second")
	botRatio := flag.Int("bot-ratio", 10, "Percent of events with bot-like answer times")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Quiz event replay")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Game:         %s\n", *gameID)
	fmt.Printf("  Participants: %d\n", *participants)
	fmt.Printf("  Events/sec:   %d\n", *eventsPerSecond)
	fmt.Printf("  Bot ratio:    %d%%\n", *botRatio)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Stable identities so events for one participant land on one
	// partition, same as the server's producer keys them
	participantIDs := make([]string, *participants)
	questionIDs := make([]string, 20)
	for i := range participantIDs {
		participantIDs[i] = uuid.New().String()
	}
	for i := range questionIDs {
		questionIDs[i] = fmt.Sprintf("q-%02d", i+1)
	}

	sendEvent := func(ev domain.GameEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(ev.ParticipantID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Done. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	interval := time.Second / time.Duration(*eventsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var sentCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			// Humans read for a few seconds; bots answer near-instantly
			var elapsed float64
			if rand.Intn(100) < *botRatio {
				elapsed = rand.Float64() * 0.4
			} else {
				elapsed = 1.5 + rand.Float64()*6.0
			}

			idx := rand.Intn(len(participantIDs))
			ev := domain.GameEvent{
				Type:           domain.EventAnswerSubmitted,
				GameID:         *gameID,
				ParticipantID:  participantIDs[idx],
				UserEmail:      fmt.Sprintf("replay-%d@example.com", idx),
				QuestionID:     questionIDs[rand.Intn(len(questionIDs))],
				QuestionNumber: rand.Intn(9) + 1,
				Choice:         rand.Intn(3),
				Correct:        rand.Intn(100) < 60,
				ElapsedSeconds: elapsed,
				Timestamp:      time.Now(),
			}
			sendEvent(ev)
			atomic.AddInt64(&sentCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Events: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
