package main

import (
	"context"
	"sync"

	"github.com/samsamfire/cansource/pkg/channel"
	"github.com/samsamfire/cansource/pkg/sink"
	log "github.com/sirupsen/logrus"
)

// pipeline runs one drainer per channel, all drainers share the writers.
type pipeline struct {
	channels []*channel.Channel
	drainers []*sink.Drainer
	writers  []sink.Writer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newPipeline(writers []sink.Writer) *pipeline {
	return &pipeline{writers: writers}
}

func (p *pipeline) add(c *channel.Channel, drainer *sink.Drainer) {
	p.channels = append(p.channels, c)
	p.drainers = append(p.drainers, drainer)
}

// start runs the drainers until stop is called. They do not depend on the
// caller's context so that they outlive acquisition.
func (p *pipeline) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for _, drainer := range p.drainers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			drainer.Run(ctx)
		}()
	}
}

// stop disconnects every channel, then lets the drainers flush what was
// queued until the readers returned, then closes the writers.
func (p *pipeline) stop() {
	for _, c := range p.channels {
		if err := c.Disconnect(); err != nil {
			log.Errorf("failed to disconnect source %v : %v", c.ID(), err)
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			log.Warnf("failed to close writer : %v", err)
		}
	}
}
