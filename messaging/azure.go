package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/config"
	"example.com/dronedelivery/domain"
)

const receiveBatchSize = 10

// AzureBus implements Bus on Azure Service Bus. Saga events go to a topic
// with the routing key in the message subject; order payloads go directly to
// the work queues.
type AzureBus struct {
	client *azservicebus.Client
	topic  string

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewAzureBus creates a Service Bus client from the configured connection
// string
func NewAzureBus(cfg config.ServiceBusConfig) (*AzureBus, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &AzureBus{
		client:  client,
		topic:   cfg.SagaTopic,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

// sender returns a cached sender for the queue or topic
func (b *AzureBus) sender(entity string) (*azservicebus.Sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sender, ok := b.senders[entity]; ok {
		return sender, nil
	}

	sender, err := b.client.NewSender(entity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender for %s: %w", entity, err)
	}
	b.senders[entity] = sender
	return sender, nil
}

// PublishSagaEvent publishes the event on the saga topic, with the routing
// key in the subject so subscriptions can filter on it
func (b *AzureBus) PublishSagaEvent(ctx context.Context, event domain.SagaEvent) error {
	envelope, err := NewEnvelope(event)
	if err != nil {
		return fmt.Errorf("failed to wrap event: %w", err)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	sender, err := b.sender(b.topic)
	if err != nil {
		return err
	}

	routingKey := RoutingKeyFor(event.EventType())
	msg := &azservicebus.Message{
		Body:    body,
		Subject: &routingKey,
		ApplicationProperties: map[string]interface{}{
			"sagaId": event.GetSagaID(),
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}

	log.Debug().
		Str("eventType", event.EventType()).
		Str("routingKey", routingKey).
		Msg("Saga event published")

	return nil
}

// SendOrder sends the order payload to a work queue
func (b *AzureBus) SendOrder(ctx context.Context, queue string, dispatch OrderDispatch) error {
	body, err := json.Marshal(dispatch)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	sender, err := b.sender(queue)
	if err != nil {
		return err
	}

	msg := &azservicebus.Message{
		Body: body,
		ApplicationProperties: map[string]interface{}{
			"sagaId": dispatch.SagaID,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to send order to %s: %w", queue, err)
	}

	return nil
}

// ConsumeQueue receives from a work queue until the context is cancelled
func (b *AzureBus) ConsumeQueue(ctx context.Context, queue string, processor MessageProcessor) error {
	receiver, err := b.client.NewReceiverForQueue(queue, nil)
	if err != nil {
		return fmt.Errorf("failed to create receiver for queue %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("Starting queue consumer")
	return b.consume(ctx, receiver, processor)
}

// ConsumeSubscription receives from a topic subscription until the context
// is cancelled
func (b *AzureBus) ConsumeSubscription(ctx context.Context, topic, subscription string, processor MessageProcessor) error {
	receiver, err := b.client.NewReceiverForSubscription(topic, subscription, nil)
	if err != nil {
		return fmt.Errorf("failed to create receiver for subscription %s/%s: %w", topic, subscription, err)
	}

	log.Info().
		Str("topic", topic).
		Str("subscription", subscription).
		Msg("Starting subscription consumer")
	return b.consume(ctx, receiver, processor)
}

func (b *AzureBus) consume(ctx context.Context, receiver *azservicebus.Receiver, processor MessageProcessor) error {
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing receiver")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Error receiving messages")
			continue
		}

		for _, message := range messages {
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error processing message")
				// Return the message to the queue
				if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

// Close closes all senders and the underlying client
func (b *AzureBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for entity, sender := range b.senders {
		if err := sender.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("entity", entity).Msg("Error closing sender")
		}
	}

	if b.client != nil {
		return b.client.Close(context.Background())
	}
	return nil
}
