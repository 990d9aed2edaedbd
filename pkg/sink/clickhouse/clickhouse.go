// Package clickhouse writes acquired CAN messages into a ClickHouse table.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/sink"
	log "github.com/sirupsen/logrus"
)

const DefaultTable = "can_messages"

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string
}

// Writer implements [sink.Writer]
type Writer struct {
	conn   driver.Conn
	table  string
	names  *sink.SourceNames
	logger *log.Entry
}

var _ sink.Writer = (*Writer)(nil)

// New connects to ClickHouse and creates the table if needed.
// names labels each row with its interface, it may be nil.
func New(ctx context.Context, config Config, names *sink.SourceNames) (*Writer, error) {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if names == nil {
		names = &sink.SourceNames{}
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse : %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse : %w", err)
	}
	if err := conn.Exec(ctx, createTableQuery(config.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table %v : %w", config.Table, err)
	}
	logger := log.WithFields(log.Fields{"module": "sink", "table": config.Table})
	logger.Infof("[SINK][CLICKHOUSE] connected to %v:%v", config.Host, config.Port)
	return &Writer{conn: conn, table: config.Table, names: names, logger: logger}, nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			source_id UInt32,
			interface String,
			can_id UInt32,
			fd Bool,
			data Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
	`, table)
}

// row returns the column values of msg, in table order.
func row(msg *datasource.Message, iface string) []any {
	return []any{
		msg.ReceptionTime.Time(),
		uint32(msg.SourceID),
		iface,
		msg.ID,
		msg.FD,
		msg.Data,
	}
}

func (w *Writer) Write(ctx context.Context, messages []datasource.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch : %w", err)
	}
	for i := range messages {
		msg := &messages[i]
		if err := batch.Append(row(msg, w.names.Get(msg.SourceID))...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch : %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch : %w", err)
	}
	w.logger.Debugf("[SINK][CLICKHOUSE] flushed %v messages", len(messages))
	return nil
}

func (w *Writer) Close() error {
	return w.conn.Close()
}
