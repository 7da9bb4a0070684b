package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"tenderlens/internal/extraction"
)

// ExtractionWorker consumes job dispatches and drives them through the
// runner. Each delivery runs in its own goroutine, so jobs for different
// documents proceed in parallel; the single-in-flight rule per (document,
// job type) is already enforced at admission.
type ExtractionWorker struct {
	conn      *amqp.Connection
	runner    *extraction.Runner
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExtractionWorker(conn *amqp.Connection, runner *extraction.Runner, queueName string) *ExtractionWorker {
	return &ExtractionWorker{
		conn:      conn,
		runner:    runner,
		queueName: queueName,
	}
}

func (w *ExtractionWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var dispatch extraction.JobDispatch
				if err := json.Unmarshal(d.Body, &dispatch); err != nil {
					log.Printf("worker decode dispatch failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				w.wg.Add(1)
				go func(delivery amqp.Delivery, dispatch extraction.JobDispatch) {
					defer w.wg.Done()

					if err := w.runner.Run(workerCtx, dispatch); err != nil {
						// Infrastructure failure; the job row still holds
						// the truth, so the dispatch is not redelivered.
						log.Printf("worker run job %s failed: %v", dispatch.JobID, err)
					}
					_ = delivery.Ack(false)
				}(d, dispatch)
			}
		}
	}()

	return nil
}

// Close stops consuming and waits for in-flight jobs to finish.
func (w *ExtractionWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
