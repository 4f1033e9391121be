package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/hallgate/edinbridge/internal/infrastructure/config"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
)

// Client writes channel telemetry to InfluxDB using the non-blocking
// write API. Points are batched and flushed in the background; write
// errors are logged, never surfaced to callers, so a slow or absent
// InfluxDB cannot stall the gateway session.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
	done     chan struct{}
}

// Connect creates an InfluxDB client and verifies the server is reachable.
//
// Returns:
//   - *Client: ready for writes
//   - error: if the health check fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrHealthCheck, err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("%w: status %s", ErrHealthCheck, health.Status)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
		done:     make(chan struct{}),
	}

	go c.drainErrors()

	return c, nil
}

// drainErrors logs asynchronous write failures from the write API.
func (c *Client) drainErrors() {
	errCh := c.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			c.logger.Warn("influxdb write error", "error", err)
		case <-c.done:
			return
		}
	}
}

// WriteChannelLevel records a dimmer or relay level change.
//
// Tags identify the channel; the measurement carries the raw 0-255
// level plus the on/off interpretation.
func (c *Client) WriteChannelLevel(gateway, deviceID, name string, address, channel, level int) {
	point := influxdb2.NewPointWithMeasurement("channel_level").
		AddTag("gateway", gateway).
		AddTag("device_id", deviceID).
		AddTag("name", name).
		AddTag("address", fmt.Sprintf("%d", address)).
		AddTag("channel", fmt.Sprintf("%d", channel)).
		AddField("level", level).
		AddField("is_on", level > 0).
		SetTime(time.Now())

	c.writeAPI.WritePoint(point)
}

// WriteInputEvent records a button or contact input event.
func (c *Client) WriteInputEvent(gateway, deviceID, name, event string) {
	point := influxdb2.NewPointWithMeasurement("input_event").
		AddTag("gateway", gateway).
		AddTag("device_id", deviceID).
		AddTag("name", name).
		AddField("event", event).
		SetTime(time.Now())

	c.writeAPI.WritePoint(point)
}

// Flush forces any buffered points to be written immediately.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes pending writes and shuts down the client.
func (c *Client) Close() {
	close(c.done)
	c.writeAPI.Flush()
	c.client.Close()
}
