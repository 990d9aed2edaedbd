package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/samsamfire/cansource/pkg/channel"
	"github.com/samsamfire/cansource/pkg/config"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/sink"
	"github.com/samsamfire/cansource/pkg/sink/clickhouse"
	"github.com/samsamfire/cansource/pkg/sink/influxdb"
	"github.com/samsamfire/cansource/pkg/timestamp"
	log "github.com/sirupsen/logrus"

	_ "github.com/samsamfire/cansource/pkg/can/socketcanring"
	_ "github.com/samsamfire/cansource/pkg/can/virtual"
)

var DefaultInterface = "can0"

func main() {
	// Command line arguments
	configPath := flag.String("c", "", "ini configuration file, other flags are ignored when set")
	iface := flag.String("i", DefaultInterface, "socketcan interface e.g. can0,vcan0")
	fd := flag.Bool("fd", false, "accept CAN-FD frames")
	strategy := flag.String("t", timestamp.Software.String(), "timestamp type : Software, Hardware or Polling")
	level := flag.String("l", "info", "log level")
	flag.Parse()

	defaultStrategy, err := timestamp.ParseStrategy(*strategy)
	if err != nil {
		log.Fatal(err)
	}

	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load %v : %v", *configPath, err)
		}
	} else {
		cfg = fromFlags(*iface, *fd, *level)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := &sink.SourceNames{}
	writers, err := newWriters(ctx, cfg.Sink, names)
	if err != nil {
		log.Fatal(err)
	}

	p := newPipeline(writers)
	for _, source := range cfg.Sources {
		c := channel.New(defaultStrategy)
		if err := c.Init([]datasource.Config{source.Config}); err != nil {
			log.Fatalf("failed to initialize source %v : %v", source.Name, err)
		}
		names.Set(c.ID(), c.InterfaceName())
		drainer, err := sink.NewDrainer(c.Buffer(), writers,
			sink.WithBatchSize(cfg.Sink.BatchSize),
			sink.WithPollInterval(cfg.Sink.PollInterval),
			sink.WithLogger(log.WithField("source", source.Name)),
		)
		if err != nil {
			log.Fatal(err)
		}
		if err := c.Connect(); err != nil {
			log.Fatalf("failed to connect source %v : %v", source.Name, err)
		}
		c.ResumeDataAcquisition()
		p.add(c, drainer)
	}

	p.start()
	log.Infof("acquiring from %v source(s), press Ctrl+C to stop", len(p.channels))
	<-ctx.Done()
	p.stop()
}

func fromFlags(iface string, fd bool, level string) *config.Config {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		log.Fatal(err)
	}
	protocol := channel.ProtocolCAN
	if fd {
		protocol = channel.ProtocolCANFD
	}
	return &config.Config{
		LogLevel: logLevel,
		Sources: []config.Source{{
			Name: iface,
			Config: datasource.Config{
				TransportProperties: map[string]string{
					channel.PropertyInterfaceName: iface,
					channel.PropertyProtocolName:  protocol,
					channel.PropertyIdleTime:      strconv.Itoa(int(channel.DefaultIdleTime.Milliseconds())),
				},
				MaxMessages: config.DefaultMaxMessages,
			},
		}},
		Sink: config.Sink{BatchSize: sink.DefaultBatchSize, PollInterval: sink.DefaultPollInterval},
	}
}

// Database writers from the configuration, messages are logged when none is configured.
func newWriters(ctx context.Context, cfg config.Sink, names *sink.SourceNames) ([]sink.Writer, error) {
	var writers []sink.Writer
	if cfg.ClickHouse != nil {
		writer, err := clickhouse.New(ctx, *cfg.ClickHouse, names)
		if err != nil {
			return nil, err
		}
		writers = append(writers, writer)
	}
	if cfg.InfluxDB != nil {
		writer, err := influxdb.New(*cfg.InfluxDB, names)
		if err != nil {
			return nil, err
		}
		writers = append(writers, writer)
	}
	if len(writers) == 0 {
		writers = append(writers, sink.NewLogWriter(nil, log.InfoLevel))
	}
	return writers, nil
}
