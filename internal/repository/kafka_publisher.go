package repository

import (
	"context"
	"strconv"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	pkgkafka "RegimeSim/pkg/kafka"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// pathMessage is the payload of one published path.
type pathMessage struct {
	RunID string                `json:"run_id"`
	Path  models.SimulationPath `json:"path"`
}

// KafkaPathPublisher writes one message per simulated path, keyed by run id
// so all paths of a run land on the same partition.
type KafkaPathPublisher struct {
	producer batchPublisher
	topic    string
}

func NewKafkaPathPublisher(producer *pkgkafka.Producer, topic string) *KafkaPathPublisher {
	return &KafkaPathPublisher{producer: producer, topic: topic}
}

const publishChunk = 500

func (p *KafkaPathPublisher) Publish(ctx context.Context, runID string, paths []models.SimulationPath) error {
	for start := 0; start < len(paths); start += publishChunk {
		end := start + publishChunk
		if end > len(paths) {
			end = len(paths)
		}
		msgs := make([]pkgkafka.Message, 0, end-start)
		for _, path := range paths[start:end] {
			msgs = append(msgs, pkgkafka.Message{
				Key:   []byte(runID),
				Value: pathMessage{RunID: runID, Path: path},
				Headers: map[string]string{
					"run_id": runID,
					"path":   strconv.Itoa(path.Index),
				},
			})
		}
		if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
			return err
		}
	}
	return nil
}

func (p *KafkaPathPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.PathPublisher = (*KafkaPathPublisher)(nil)
