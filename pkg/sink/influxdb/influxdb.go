// Package influxdb writes acquired CAN messages as InfluxDB 3 points.
package influxdb

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/sink"
	log "github.com/sirupsen/logrus"
)

const DefaultMeasurement = "can_messages"

type Config struct {
	URL         string
	Token       string
	Database    string
	Measurement string
}

// Writer implements [sink.Writer]
type Writer struct {
	client      *influxdb3.Client
	measurement string
	names       *sink.SourceNames
	logger      *log.Entry
}

var _ sink.Writer = (*Writer)(nil)

// New creates the InfluxDB client, names may be nil.
func New(config Config, names *sink.SourceNames) (*Writer, error) {
	if config.Measurement == "" {
		config.Measurement = DefaultMeasurement
	}
	if names == nil {
		names = &sink.SourceNames{}
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influxdb client : %w", err)
	}
	logger := log.WithFields(log.Fields{"module": "sink", "measurement": config.Measurement})
	logger.Infof("[SINK][INFLUXDB] writing to %v, database %v", config.URL, config.Database)
	return &Writer{client: client, measurement: config.Measurement, names: names, logger: logger}, nil
}

func tags(msg *datasource.Message, iface string) map[string]string {
	return map[string]string{
		"interface": iface,
		"can_id":    fmt.Sprintf("0x%X", msg.ID),
	}
}

func fields(msg *datasource.Message) map[string]any {
	return map[string]any{
		"can_id_decimal": uint64(msg.ID),
		"source_id":      uint64(msg.SourceID),
		"fd":             msg.FD,
		"length":         int64(len(msg.Data)),
		"data":           hex.EncodeToString(msg.Data),
	}
}

func (w *Writer) point(msg *datasource.Message) *influxdb3.Point {
	return influxdb3.NewPoint(
		w.measurement,
		tags(msg, w.names.Get(msg.SourceID)),
		fields(msg),
		msg.ReceptionTime.Time(),
	)
}

func (w *Writer) Write(ctx context.Context, messages []datasource.Message) error {
	if len(messages) == 0 {
		return nil
	}
	points := make([]*influxdb3.Point, 0, len(messages))
	for i := range messages {
		points = append(points, w.point(&messages[i]))
	}
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points : %w", err)
	}
	w.logger.Debugf("[SINK][INFLUXDB] flushed %v messages", len(messages))
	return nil
}

func (w *Writer) Close() error {
	return w.client.Close()
}
