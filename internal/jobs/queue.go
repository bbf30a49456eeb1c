// ABOUTME: Watermill-backed job queue with in-process and Redis Streams transports
// ABOUTME: Guards against cross-process redelivery with a keyed claim in the KV store

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"

	"github.com/chatforge/wce-gateway/internal/kvstore"
)

const (
	// DefaultTopic is the stream jobs are published to.
	DefaultTopic = "wce.jobs"

	// claimNamespace prefixes the per-job redelivery claims.
	claimNamespace = "wce:job"

	// claimTTL bounds how long a processed job blocks redelivery.
	claimTTL = time.Hour
)

// QueueExecutor publishes jobs to a watermill topic and runs a router
// that delivers them to the handler. The transport behind it is either
// an in-process Go channel or Redis Streams.
type QueueExecutor struct {
	pub     message.Publisher
	router  *message.Router
	topic   string
	claims  kvstore.Store
	handler Handler
	logger  *slog.Logger
}

// NewQueueExecutor builds an executor over an in-process Pub/Sub.
// Suitable for a single gateway instance; jobs do not survive restarts.
func NewQueueExecutor(handler Handler, logger *slog.Logger) (*QueueExecutor, error) {
	wmLogger := newSlogAdapter(logger)
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	return newExecutor(pubsub, pubsub, nil, handler, logger, wmLogger)
}

// RedisOptions configures the Redis Streams transport.
type RedisOptions struct {
	Stream   string
	Group    string
	Consumer string
}

// NewRedisExecutor builds an executor over Redis Streams. Every gateway
// instance joins the same consumer group, so each job is delivered to
// exactly one instance; claims stores a per-job marker that suppresses
// redelivered duplicates.
func NewRedisExecutor(ctx context.Context, client redis.UniversalClient, opts RedisOptions, claims kvstore.Store, handler Handler, logger *slog.Logger) (*QueueExecutor, error) {
	if opts.Stream == "" {
		opts.Stream = DefaultTopic
	}
	if opts.Group == "" {
		opts.Group = "wce-gateway"
	}
	if opts.Consumer == "" {
		opts.Consumer = watermill.NewShortUUID()
	}

	// Create the group at the stream tail so a fresh instance does not
	// replay history.
	if err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "$").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("creating consumer group %s: %w", opts.Group, err)
		}
	}

	wmLogger := newSlogAdapter(logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: opts.Group,
		Consumer:      opts.Consumer,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating subscriber: %w", err)
	}

	exec, err := newExecutor(pub, sub, claims, handler, logger, wmLogger)
	if err != nil {
		return nil, err
	}
	exec.topic = opts.Stream
	return exec, nil
}

func newExecutor(pub message.Publisher, sub message.Subscriber, claims kvstore.Store, handler Handler, logger *slog.Logger, wmLogger watermill.LoggerAdapter) (*QueueExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	exec := &QueueExecutor{
		pub:     pub,
		router:  router,
		topic:   DefaultTopic,
		claims:  claims,
		handler: handler,
		logger:  logger.With("component", "jobs"),
	}
	router.AddNoPublisherHandler("job-runner", exec.topic, sub, exec.handle)
	return exec, nil
}

// Run starts the router and blocks until ctx is cancelled or the
// router stops.
func (e *QueueExecutor) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// Running is closed once the router is consuming. Callers that enqueue
// immediately after startup should wait on it, since the in-process
// transport drops messages published before the subscriber attaches.
func (e *QueueExecutor) Running() chan struct{} {
	return e.router.Running()
}

func (e *QueueExecutor) Enqueue(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	msg := message.NewMessage(job.ID, body)
	if err := e.pub.Publish(e.topic, msg); err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	e.logger.Debug("job enqueued", "job_id", job.ID, "user_id", job.UserID, "message_id", job.MessageID)
	return nil
}

func (e *QueueExecutor) handle(msg *message.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// A poison message would redeliver forever; ack and move on.
		e.logger.Error("dropping undecodable job", "message_uuid", msg.UUID, "error", err)
		return nil
	}

	ctx := msg.Context()
	if e.claims != nil {
		claimed, err := e.claims.SetNX(ctx, claimNamespace, job.Key(), []byte(job.ID), claimTTL)
		if err != nil {
			return fmt.Errorf("claiming job %s: %w", job.ID, err)
		}
		if !claimed {
			e.logger.Info("skipping redelivered job", "job_id", job.ID, "key", job.Key())
			return nil
		}
	}

	start := time.Now()
	if err := e.handler(ctx, &job); err != nil {
		e.logger.Error("job failed",
			"job_id", job.ID, "user_id", job.UserID, "message_id", job.MessageID,
			"duration", time.Since(start), "error", err)
		// Failures are terminal; acking avoids hot redelivery loops.
		return nil
	}
	e.logger.Debug("job done", "job_id", job.ID, "duration", time.Since(start))
	return nil
}

func (e *QueueExecutor) Close() error {
	return e.router.Close()
}
