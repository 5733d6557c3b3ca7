package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/config"
	queueErrors "github.com/mahirjain10/image-variants/internal/queue/errors"
	"github.com/mahirjain10/image-variants/internal/queue/models"
	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

const jobPattern = "variants"

// Runner is the variant pipeline.
type Runner interface {
	Run(ctx context.Context, source string, variants map[string]types.VariantConfig, tags map[string]string) (map[string]*types.VariantResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, message any) error
}

type channelPublisher struct {
	ch *amqp.Channel
}

func (p *channelPublisher) Publish(ctx context.Context, message any) error {
	if p.ch == nil {
		return fmt.Errorf("statusQueueChannel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	serializedMessage, err := utils.SerializeJSON(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		StatusExchange,
		StatusRoutingKey,
		true,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        serializedMessage,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

type RabbitMqService struct {
	config       *config.Config
	connMu       sync.Mutex
	rabbitMqConn *amqp.Connection
	runner       Runner
	catalog      config.Variants
	publisher    Publisher
	log          *zap.Logger
}

func NewRabbitMqService(rabbitMqConn *amqp.Connection, runner Runner, catalog config.Variants, cfg *config.Config, log *zap.Logger) *RabbitMqService {
	return &RabbitMqService{
		config:       cfg,
		rabbitMqConn: rabbitMqConn,
		runner:       runner,
		catalog:      catalog,
		log:          log.Named("worker"),
	}
}

func (rabbitMqService *RabbitMqService) fireBackgroundCleanup(parentCtx context.Context) {
	if rabbitMqService.config.ScratchDir == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, 90*time.Second)
		defer cancel()
		removed, err := utils.RemoveStaleScratch(ctx, rabbitMqService.config.ScratchDir, time.Hour, time.Now())
		if err != nil {
			rabbitMqService.log.Warn("[bg-cleanup] scratch sweep failed", zap.Error(err))
			return
		}
		if len(removed) > 0 {
			rabbitMqService.log.Info("[bg-cleanup] removed stale scratch dirs", zap.Strings("dirs", removed))
		}
	}()
}

// PublishToChannelHelper publishes a status update. Only fatal broker
// errors are returned; anything else is logged.
func (rabbitMqService *RabbitMqService) PublishToChannelHelper(ctx context.Context, data *types.StatusData) error {
	statusMessage := utils.InitStatusMessage(data)
	rabbitMqService.log.Debug("publishing status", zap.String("id", data.ID), zap.String("status", data.Status))
	if err := rabbitMqService.publisher.Publish(ctx, statusMessage); err != nil {
		if utils.IsFatalError(err) {
			return fmt.Errorf("fatal: cannot publish %s status: %w", data.Status, err)
		}
		rabbitMqService.log.Warn("failed to publish status", zap.String("status", data.Status), zap.Error(err))
	}
	return nil
}

func (rabbitMqService *RabbitMqService) ProcessMessage(ctx context.Context, d amqp.Delivery) error {
	var rabbitMqMessage types.RabbitMQMessage
	if err := utils.ParseJSON(d.Body, &rabbitMqMessage); err != nil {
		return models.ProcessingError{Err: fmt.Errorf("failed to parse message: %w", err), Requeue: false}
	}
	if rabbitMqMessage.Pattern != jobPattern {
		return models.ProcessingError{Err: fmt.Errorf("unexpected message pattern %q", rabbitMqMessage.Pattern), Requeue: false}
	}

	job := rabbitMqMessage.Data
	if job.Id == "" {
		job.Id = uuid.NewString()
	}
	log := rabbitMqService.log.With(zap.String("jobId", job.Id), zap.String("source", job.Source))
	if job.CreatedAt != "" {
		log.Debug("job received", zap.String("createdAt", job.CreatedAt))
	}

	fail := func(errorMsg string, cause error, requeue bool) error {
		data := utils.InitStatusData(job.Id, job.UserId, types.FAILED, nil, nil, errorMsg)
		if err := rabbitMqService.PublishToChannelHelper(ctx, data); err != nil {
			return err
		}
		return models.ProcessingError{Err: cause, Requeue: requeue}
	}

	if job.Source == "" {
		return fail(queueErrors.ErrMessage, errors.New("job has no source"), false)
	}
	variants, err := rabbitMqService.catalog.Select(job.Variants)
	if err != nil {
		return fail(queueErrors.ErrValidate, err, false)
	}

	processing := utils.InitStatusData(job.Id, job.UserId, types.PROCESSING, nil, nil, "")
	if err := rabbitMqService.PublishToChannelHelper(ctx, processing); err != nil {
		return err
	}

	results, err := rabbitMqService.runner.Run(ctx, job.Source, variants, job.Tags)
	urls := cdnURLs(results)

	var partial *types.PartialFailure
	var validation *types.ValidationError
	var fetchErr *types.FetchError
	switch {
	case err == nil:
		done := utils.InitStatusData(job.Id, job.UserId, types.PROCESSED, urls, nil, "")
		if err := rabbitMqService.PublishToChannelHelper(ctx, done); err != nil {
			return err
		}
		log.Info("job processed", zap.Int("variants", len(results)))
		return nil

	case errors.As(err, &partial) && !partial.AllFailed():
		data := utils.InitStatusData(job.Id, job.UserId, types.PARTIAL, urls, failureMessages(partial), queueErrors.ErrPartial)
		if err := rabbitMqService.PublishToChannelHelper(ctx, data); err != nil {
			return err
		}
		log.Warn("job partially processed", zap.Strings("succeeded", partial.Succeeded), zap.Error(partial))
		return nil

	case errors.As(err, &partial):
		// every variant failed; worth one more delivery only when an
		// upload was the cause
		requeue := !d.Redelivered && anyRetryable(partial)
		errorMsg := queueErrors.ErrTransform
		if anyStep(partial, types.StepUpload) {
			errorMsg = queueErrors.ErrUpload
		}
		rabbitMqService.fireBackgroundCleanup(ctx)
		return fail(errorMsg, err, requeue)

	case errors.As(err, &validation):
		return fail(queueErrors.ErrValidate, err, false)

	case errors.As(err, &fetchErr):
		return fail(queueErrors.ErrFetch, err, !d.Redelivered && fetchErr.Retryable)

	default:
		rabbitMqService.fireBackgroundCleanup(ctx)
		return fail(queueErrors.ErrTransform, err, !d.Redelivered && utils.IsTransientError(err))
	}
}

// settle acks or nacks a delivery according to the processing outcome.
func (rabbitMqService *RabbitMqService) settle(d amqp.Delivery, err error) {
	if err == nil {
		d.Ack(false)
		return
	}
	var procErr models.ProcessingError
	if errors.As(err, &procErr) {
		d.Nack(false, procErr.Requeue)
		return
	}
	d.Nack(false, utils.IsTransientError(err))
}

func (rabbitMqService *RabbitMqService) Start(ctx context.Context) error {
	queueName := rabbitMqService.config.RabbitMqQueue

	ch, err := rabbitMqService.openChannel()
	if err != nil {
		return err
	}
	if _, err = NewQueue(ch, queueName); err != nil {
		ch.Close()
		return err
	}
	if err = DeclareStatusRoute(ch); err != nil {
		ch.Close()
		return err
	}
	rabbitMqService.publisher = &channelPublisher{ch: ch}
	rabbitMqService.log.Info("queues declared", zap.String("queue", queueName), zap.String("statusQueue", StatusQueue))

	rabbitMqService.fireBackgroundCleanup(ctx)

	count := rabbitMqService.config.WorkerCount
	if count < 1 {
		count = 1
	}
	for i := range count {
		rabbitMqService.log.Info("worker started", zap.String("queue", queueName), zap.Int("worker", i+1))
		go rabbitMqService.consume(ctx, queueName)
	}

	<-ctx.Done()
	rabbitMqService.log.Info("shutting down all consumers gracefully")
	return nil
}

// consume keeps one consumer channel alive, reconnecting when the broker
// drops it.
func (rabbitMqService *RabbitMqService) consume(ctx context.Context, queueName string) {
	log := rabbitMqService.log.With(zap.String("queue", queueName))
	var consumerCh *amqp.Channel
	defer func() {
		if consumerCh != nil {
			consumerCh.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		default:
		}

		if consumerCh == nil || consumerCh.IsClosed() {
			newCh, err := rabbitMqService.openChannel()
			if err != nil {
				log.Error("failed to create channel", zap.Error(err))
				sleepCtx(ctx, 5*time.Second)
				continue
			}
			consumerCh = newCh
		}

		msgs, err := NewQueueConsumer(consumerCh, queueName, 1)
		if err != nil {
			log.Error("failed to start consumer", zap.Error(err))
			consumerCh.Close()
			consumerCh = nil
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		log.Info("waiting for messages")

		channelClosed := false
		for !channelClosed {
			select {
			case <-ctx.Done():
				log.Info("shutting down")
				return
			case d, ok := <-msgs:
				if !ok {
					log.Warn("channel closed, will recreate")
					consumerCh = nil
					channelClosed = true
					sleepCtx(ctx, 2*time.Second)
					break
				}
				err := rabbitMqService.ProcessMessage(ctx, d)
				if err != nil {
					log.Error("error processing message", zap.Error(err))
				}
				rabbitMqService.settle(d, err)
			}
		}
	}
}

// openChannel redials the shared connection first if the broker closed it.
func (rabbitMqService *RabbitMqService) openChannel() (*amqp.Channel, error) {
	rabbitMqService.connMu.Lock()
	defer rabbitMqService.connMu.Unlock()
	if rabbitMqService.rabbitMqConn == nil || rabbitMqService.rabbitMqConn.IsClosed() {
		conn, err := NewRabbitMQClient(rabbitMqService.config.RabbitMqURL)
		if err != nil {
			return nil, err
		}
		rabbitMqService.rabbitMqConn = conn
	}
	return NewChannel(rabbitMqService.rabbitMqConn)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func cdnURLs(results map[string]*types.VariantResult) map[string]string {
	if len(results) == 0 {
		return nil
	}
	urls := make(map[string]string, len(results))
	for name, res := range results {
		if res != nil && res.Object != nil {
			urls[name] = res.Object.URLs.CDN
		}
	}
	return urls
}

func failureMessages(pf *types.PartialFailure) []string {
	msgs := make([]string, 0, len(pf.Failures))
	for _, f := range pf.Failures {
		msgs = append(msgs, f.Error())
	}
	sort.Strings(msgs)
	return msgs
}

func anyRetryable(pf *types.PartialFailure) bool {
	for _, f := range pf.Failures {
		if types.IsRetryable(f.Err) {
			return true
		}
	}
	return false
}

func anyStep(pf *types.PartialFailure, step string) bool {
	for _, f := range pf.Failures {
		if f.Step == step {
			return true
		}
	}
	return false
}
