package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/pkg/nats"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Feed is a recorded set of metric pushes and execution samples
type Feed struct {
	VenueMetrics []nats.VenueMetricsMessage      `yaml:"venue_metrics"`
	Performance  []nats.PerformanceSampleMessage `yaml:"performance"`
}

// Publisher is the part of the NATS client used for replay
type Publisher interface {
	PublishVenueMetrics(ctx context.Context, msg nats.VenueMetricsMessage) error
	PublishPerformanceSample(ctx context.Context, msg nats.PerformanceSampleMessage) error
}

func main() {
	fs := pflag.NewFlagSet("feed-replay", pflag.ExitOnError)
	url := fs.String("nats-url", "nats://localhost:4222", "NATS server URL")
	stream := fs.String("stream", nats.DefaultStream, "JetStream stream name")
	file := fs.StringP("file", "f", "configs/feed-sample.yaml", "Feed file to replay")
	interval := fs.Duration("interval", 0, "Pause between messages")
	restamp := fs.Bool("restamp", true, "Stamp venue metrics with the current time")
	fs.Parse(os.Args[1:])

	logger, _ := monitor.NewLogger(monitor.LogOptions{Level: "info", Format: "text"})
	log := monitor.Component(logger, "feed-replay")

	feed, err := loadFeed(*file)
	if err != nil {
		log.WithError(err).Fatal("Failed to load feed")
	}

	client, err := nats.NewClient(nats.DefaultConfig(*url, *stream), monitor.Component(logger, "nats-client"))
	if err != nil {
		log.WithError(err).Fatal("Failed to connect")
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var now func() time.Time
	if *restamp {
		now = time.Now
	}
	sent, err := replay(ctx, client, feed, *interval, now)
	log.WithFields(logrus.Fields{"sent": sent}).Info("Replay finished")
	if err != nil {
		log.WithError(err).Fatal("Replay failed")
	}
}

func loadFeed(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", path, err)
	}
	var f Feed
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", path, err)
	}
	return &f, nil
}

// replay publishes metric pushes first, then execution samples. A non-nil now
// overrides the recorded metric timestamps.
func replay(ctx context.Context, pub Publisher, feed *Feed, interval time.Duration, now func() time.Time) (int, error) {
	sent := 0
	wait := func() error {
		if interval <= 0 {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			return nil
		}
	}

	for i, m := range feed.VenueMetrics {
		if m.VenueID == "" {
			return sent, fmt.Errorf("venue metrics entry %d has no venue_id", i)
		}
		if now != nil {
			m.Timestamp = now()
		}
		if err := pub.PublishVenueMetrics(ctx, m); err != nil {
			return sent, err
		}
		sent++
		if err := wait(); err != nil {
			return sent, err
		}
	}

	for i, p := range feed.Performance {
		if p.AlgorithmID == "" {
			return sent, fmt.Errorf("performance entry %d has no algorithm_id", i)
		}
		if err := pub.PublishPerformanceSample(ctx, p); err != nil {
			return sent, err
		}
		sent++
		if err := wait(); err != nil {
			return sent, err
		}
	}
	return sent, nil
}
