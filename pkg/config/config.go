// Package config loads the acquisition settings from an ini file.
//
//	[log]
//	level = info
//
//	[source.front]
//	interfaceName    = can0
//	protocolName     = CAN-FD
//	threadIdleTimeMs = 1000
//	timestampType    = Software
//	maxMessages      = 10000
//
//	[sink]
//	batchSize      = 1000
//	pollIntervalMs = 100
//
//	[sink.clickhouse]
//	host = localhost
//	port = 9000
//
//	[sink.influxdb]
//	url = http://localhost:8181
//
// Every key of a source section other than maxMessages is passed
// as is to the channel as a transport property.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/sink"
	"github.com/samsamfire/cansource/pkg/sink/clickhouse"
	"github.com/samsamfire/cansource/pkg/sink/influxdb"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	sourcePrefix       = "source."
	keyMaxMessages     = "maxMessages"
	DefaultMaxMessages = 10000
)

var ErrNoSource = errors.New("no source section")

type Source struct {
	Name   string
	Config datasource.Config
}

type Sink struct {
	BatchSize    int
	PollInterval time.Duration
	ClickHouse   *clickhouse.Config // nil when not configured
	InfluxDB     *influxdb.Config   // nil when not configured
}

type Config struct {
	LogLevel log.Level
	Sources  []Source
	Sink     Sink
}

// Load parses an ini file.
// file can be either a path, an *os.File or []byte, like [ini.Load].
func Load(file any) (*Config, error) {
	iniFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	config := &Config{LogLevel: log.InfoLevel}

	if level := iniFile.Section("log").Key("level").String(); level != "" {
		config.LogLevel, err = log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("[CONFIG] invalid log level : %w", err)
		}
	}

	for _, section := range iniFile.Sections() {
		name, ok := strings.CutPrefix(section.Name(), sourcePrefix)
		if !ok {
			continue
		}
		source, err := parseSource(name, section)
		if err != nil {
			return nil, err
		}
		config.Sources = append(config.Sources, source)
	}
	if len(config.Sources) == 0 {
		return nil, ErrNoSource
	}

	config.Sink, err = parseSink(iniFile)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func parseSource(name string, section *ini.Section) (Source, error) {
	properties := section.KeysHash()
	maxMessages := DefaultMaxMessages
	if section.HasKey(keyMaxMessages) {
		value, err := section.Key(keyMaxMessages).Int()
		if err != nil {
			return Source{}, fmt.Errorf("[CONFIG] source %v : invalid %v : %w", name, keyMaxMessages, err)
		}
		maxMessages = value
	}
	delete(properties, keyMaxMessages)
	return Source{
		Name:   name,
		Config: datasource.Config{TransportProperties: properties, MaxMessages: maxMessages},
	}, nil
}

func parseSink(iniFile *ini.File) (Sink, error) {
	general := iniFile.Section("sink")
	sinkConfig := Sink{
		BatchSize:    general.Key("batchSize").MustInt(sink.DefaultBatchSize),
		PollInterval: time.Duration(general.Key("pollIntervalMs").MustInt(int(sink.DefaultPollInterval.Milliseconds()))) * time.Millisecond,
	}
	if sinkConfig.BatchSize <= 0 || sinkConfig.PollInterval <= 0 {
		return sinkConfig, fmt.Errorf("[CONFIG] sink batchSize and pollIntervalMs must be strictly positive")
	}

	if section, err := iniFile.GetSection("sink.clickhouse"); err == nil {
		sinkConfig.ClickHouse = &clickhouse.Config{
			Host:     section.Key("host").MustString("localhost"),
			Port:     section.Key("port").MustInt(9000),
			Database: section.Key("database").MustString("default"),
			Username: section.Key("username").MustString("default"),
			Password: section.Key("password").String(),
			Table:    section.Key("table").MustString(clickhouse.DefaultTable),
		}
	}
	if section, err := iniFile.GetSection("sink.influxdb"); err == nil {
		sinkConfig.InfluxDB = &influxdb.Config{
			URL:         section.Key("url").MustString("http://localhost:8181"),
			Token:       section.Key("token").String(),
			Database:    section.Key("database").MustString("can"),
			Measurement: section.Key("measurement").MustString(influxdb.DefaultMeasurement),
		}
	}
	return sinkConfig, nil
}
