package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/siffror/iiot-machine-health/errors"
)

// JetStream returns the JetStream context established by Connect.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// checkStreamReady gates JetStream operations on connection state.
func (c *Client) checkStreamReady() error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	return nil
}

// CreateStream creates or updates a stream and registers it for
// metrics polling.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if err := c.checkStreamReady(); err != nil {
		return nil, err
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		c.jsMetrics.recordError("create_stream")
		return nil, err
	}

	c.resetCircuit()
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// GetStream looks up an existing stream by name.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	if err := c.checkStreamReady(); err != nil {
		return nil, err
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	if err != nil {
		c.recordFailure()
		c.jsMetrics.recordError("get_stream")
		return nil, err
	}

	c.resetCircuit()
	c.jsMetrics.trackStream(name, stream)
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the
// server ack, so a nil return means the event is persisted.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if err := c.checkStreamReady(); err != nil {
		return err
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return err
	}

	c.resetCircuit()
	return nil
}

// ConsumeStream creates a durable consumer with explicit acks and
// delivers messages to the handler. Acknowledgement follows the
// handler's return value: nil acks the message, a non-nil error naks
// it so the server redelivers. Rejections that must NOT be redelivered
// (malformed payloads) are therefore handled inside the handler and
// reported as nil.
func (c *Client) ConsumeStream(
	ctx context.Context, streamName, subject, durable string, handler func(context.Context, []byte) error,
) error {
	if err := c.checkStreamReady(); err != nil {
		return err
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return err
	}

	if c.closed.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("client is closed"),
			"Client", "ConsumeStream", "check client state")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		c.recordFailure()
		c.jsMetrics.recordError("create_consumer")
		return err
	}

	if info, err := consumer.Info(ctx); err == nil {
		c.jsMetrics.trackConsumer(streamName, info.Name, consumer)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if herr := handler(msgCtx, msg.Data()); herr != nil {
			c.logger.Debugf("Handler failed for %s, requesting redelivery: %v", subject, herr)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Errorf("Failed to nak message on %s: %v", subject, nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Errorf("Failed to ack message on %s: %v", subject, ackErr)
		}
	})
	if err != nil {
		c.recordFailure()
		return err
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	// Close may have raced us here; don't leak a running consumer.
	if c.closed.Load() {
		consumeCtx.Stop()
		return errors.WrapInvalid(
			fmt.Errorf("client is closing"),
			"Client", "ConsumeStream", "check client state during consumer registration")
	}

	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := fmt.Sprintf("%s:%s", streamName, subject)
	if existing, ok := c.consumers[key]; ok {
		existing.Stop()
		c.logger.Debugf("Replaced existing consumer for %s", key)
	}
	c.consumers[key] = consumeCtx

	c.resetCircuit()
	return nil
}
