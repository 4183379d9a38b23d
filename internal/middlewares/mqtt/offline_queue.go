package mqtt_middleware

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/soapboxderby/derbynet-agent/internal/models"
	"github.com/soapboxderby/derbynet-agent/internal/utils"
	"github.com/soapboxderby/derbynet-agent/pkg/file"
)

// ConnectionChecker reports whether the broker is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// OfflineQueueMiddleware persists publishes made while the broker is
// unreachable and replays them, oldest first, once it is back.
type OfflineQueueMiddleware struct {
	next          MQTTMiddleware
	queueDir      string
	drainInterval time.Duration
	connection    ConnectionChecker
	fileClient    file.FileOperations
	logger        zerolog.Logger

	mu      sync.Mutex // guards pending and the queue directory
	pending int
	kick    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOfflineQueueMiddleware creates the middleware. Call Init before use.
func NewOfflineQueueMiddleware(queueDir string, drainInterval time.Duration, connection ConnectionChecker,
	fileClient file.FileOperations, logger zerolog.Logger) *OfflineQueueMiddleware {
	return &OfflineQueueMiddleware{
		queueDir:      queueDir,
		drainInterval: drainInterval,
		connection:    connection,
		fileClient:    fileClient,
		logger:        logger,
		kick:          make(chan struct{}, 1),
	}
}

// SetNext sets the next middleware in the chain.
func (q *OfflineQueueMiddleware) SetNext(next MQTTMiddleware) {
	q.next = next
}

// Init creates the queue directory and counts messages left from a previous run.
// A non-empty string param overrides the queue directory.
func (q *OfflineQueueMiddleware) Init(params interface{}) error {
	if dir, ok := params.(string); ok && dir != "" {
		q.queueDir = dir
	}
	if err := q.fileClient.EnsureDir(q.queueDir); err != nil {
		return fmt.Errorf("failed to create queue dir %s: %w", q.queueDir, err)
	}

	files, err := q.fileClient.ListFiles(q.queueDir, ".json")
	if err != nil {
		return fmt.Errorf("failed to list queue dir: %w", err)
	}

	q.mu.Lock()
	q.pending = len(files)
	q.mu.Unlock()

	if len(files) > 0 {
		q.logger.Info().Int("pending", len(files)).Msg("Found queued messages from previous run")
	}
	return nil
}

// Publish forwards the message, or queues it when the broker is unreachable,
// the publish fails, or older messages are still waiting.
func (q *OfflineQueueMiddleware) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	if q.next == nil {
		return errors.New("offline queue has no next middleware")
	}

	q.mu.Lock()
	backlog := q.pending > 0
	q.mu.Unlock()

	if !backlog && q.connection.IsConnected() {
		err := q.next.Publish(topic, qos, retained, payload)
		if err == nil {
			return nil
		}
		q.logger.Warn().Err(err).Str("topic", topic).Msg("Publish failed, queueing message")
	}

	if err := q.enqueue(topic, qos, retained, payload); err != nil {
		return err
	}
	q.trigger()
	return nil
}

// Subscribe passes through to the next middleware.
func (q *OfflineQueueMiddleware) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return q.next.Subscribe(topic, qos, callback)
}

// Unsubscribe passes through to the next middleware.
func (q *OfflineQueueMiddleware) Unsubscribe(topics ...string) error {
	return q.next.Unsubscribe(topics...)
}

// Pending returns the number of messages waiting on disk.
func (q *OfflineQueueMiddleware) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *OfflineQueueMiddleware) enqueue(topic string, qos byte, retained bool, payload interface{}) error {
	data, err := utils.ToPayload(payload)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	msg := models.QueuedMessage{
		ID:        uuid.NewString(),
		Timestamp: now,
		Topic:     topic,
		Payload:   data,
		QOS:       qos,
		Retain:    retained,
	}
	path := filepath.Join(q.queueDir, fmt.Sprintf("%019d-%s.json", now.UnixNano(), msg.ID))

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fileClient.WriteJsonFile(path, msg); err != nil {
		q.logger.Error().Err(err).Str("topic", topic).Msg("Failed to queue message")
		return fmt.Errorf("failed to queue message for %s: %w", topic, err)
	}
	q.pending++
	q.logger.Debug().Str("topic", topic).Str("id", msg.ID).Int("pending", q.pending).Msg("Message queued")
	return nil
}

func (q *OfflineQueueMiddleware) trigger() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Drain publishes queued messages in order until the queue is empty or a
// publish fails. It returns the number of messages sent.
func (q *OfflineQueueMiddleware) Drain() (int, error) {
	if !q.connection.IsConnected() {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.fileClient.ListFiles(q.queueDir, ".json")
	if err != nil {
		return 0, fmt.Errorf("failed to list queue dir: %w", err)
	}

	sent := 0
	for _, path := range files {
		var msg models.QueuedMessage
		if err := q.fileClient.ReadJsonFile(path, &msg); err != nil {
			q.logger.Error().Err(err).Str("file", path).Msg("Dropping unreadable queued message")
			_ = q.fileClient.RemoveFile(path)
			continue
		}

		if err := q.next.Publish(msg.Topic, msg.QOS, msg.Retain, msg.Payload); err != nil {
			q.pending = len(files) - sent
			return sent, fmt.Errorf("failed to replay %s: %w", msg.ID, err)
		}
		if err := q.fileClient.RemoveFile(path); err != nil {
			q.logger.Error().Err(err).Str("file", path).Msg("Failed to remove replayed message")
		}
		sent++
	}

	q.pending = 0
	if sent > 0 {
		q.logger.Info().Int("sent", sent).Msg("Offline queue drained")
	}
	return sent, nil
}

// Start launches the background drain loop.
func (q *OfflineQueueMiddleware) Start() error {
	if q.ctx != nil {
		return errors.New("offline queue service is already running")
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.runDrainLoop()
	}()

	q.logger.Info().Str("dir", q.queueDir).Msg("Offline queue started")
	return nil
}

// Stop ends the drain loop. Queued messages stay on disk.
func (q *OfflineQueueMiddleware) Stop() error {
	if q.ctx == nil {
		return errors.New("offline queue service is not running")
	}
	q.cancel()
	q.wg.Wait()
	q.ctx = nil
	q.cancel = nil

	q.logger.Info().Int("pending", q.Pending()).Msg("Offline queue stopped")
	return nil
}

func (q *OfflineQueueMiddleware) runDrainLoop() {
	ticker := time.NewTicker(q.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-q.kick:
		case <-q.ctx.Done():
			return
		}
		if q.Pending() == 0 {
			continue
		}
		if _, err := q.Drain(); err != nil {
			q.logger.Warn().Err(err).Msg("Offline queue drain interrupted")
		}
	}
}
