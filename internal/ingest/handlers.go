// Package ingest applies venue metric pushes and algorithm performance samples
// arriving from the message bus.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/nats"
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// Recorder is told about ingest outcomes, e.g. for metrics
type Recorder interface {
	StaleUpdate()
	PerformanceSample(algorithmID string)
}

// Subscriber is the part of the NATS client ingest needs
type Subscriber interface {
	SubscribeVenueMetrics(handler nats.MessageHandler) (*nats.Subscription, error)
	SubscribePerformance(handler nats.MessageHandler) (*nats.Subscription, error)
}

// Handler decodes feed messages and applies them to the registries
type Handler struct {
	venues   *venue.Registry
	catalog  *algorithm.Catalog
	recorder Recorder
	logger   *logrus.Entry
}

// NewHandler creates an ingest handler; recorder may be nil
func NewHandler(venues *venue.Registry, catalog *algorithm.Catalog, recorder Recorder, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logrus.WithField("component", "ingest")
	}
	return &Handler{
		venues:   venues,
		catalog:  catalog,
		recorder: recorder,
		logger:   logger,
	}
}

// Attach subscribes both feeds
func (h *Handler) Attach(sub Subscriber) error {
	if _, err := sub.SubscribeVenueMetrics(h.HandleVenueMetrics); err != nil {
		return err
	}
	if _, err := sub.SubscribePerformance(h.HandlePerformanceSample); err != nil {
		return err
	}
	return nil
}

// HandleVenueMetrics applies a metric push. Out-of-order pushes are dropped
// and counted; they are not an error for the feed.
func (h *Handler) HandleVenueMetrics(subject string, data []byte) error {
	var msg nats.VenueMetricsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode venue metrics: %w", err)
	}
	if msg.VenueID == "" {
		id, err := nats.ParseVenueMetricsSubject(subject)
		if err != nil {
			return err
		}
		msg.VenueID = id
	}
	if msg.Timestamp.IsZero() {
		return fmt.Errorf("venue %s: metrics push without timestamp", msg.VenueID)
	}

	m := venue.Metrics{
		LatencyMs:      msg.LatencyMs,
		FillRate:       msg.FillRate,
		SlippageBps:    msg.SlippageBps,
		LiquidityScore: msg.LiquidityScore,
		CostBps:        msg.CostBps,
		MarketShare:    msg.MarketShare,
	}

	err := h.venues.UpsertMetrics(msg.VenueID, m, msg.Timestamp)
	if errors.Is(err, types.ErrStaleUpdate) {
		if h.recorder != nil {
			h.recorder.StaleUpdate()
		}
		return nil
	}
	return err
}

// HandlePerformanceSample folds an execution sample into the algorithm window
func (h *Handler) HandlePerformanceSample(subject string, data []byte) error {
	var msg nats.PerformanceSampleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode performance sample: %w", err)
	}
	if msg.AlgorithmID == "" {
		id, err := nats.ParsePerformanceSubject(subject)
		if err != nil {
			return err
		}
		msg.AlgorithmID = id
	}

	err := h.catalog.RecordPerformanceSample(msg.AlgorithmID, algorithm.Sample{
		SlippageBps:   msg.SlippageBps,
		FillRate:      msg.FillRate,
		ExecutionTime: msg.ExecutionTime(),
		CostSavings:   msg.CostSavings,
	})
	if err != nil {
		return err
	}

	if h.recorder != nil {
		h.recorder.PerformanceSample(msg.AlgorithmID)
	}
	h.logger.WithField("algorithm", msg.AlgorithmID).Debug("Performance sample recorded")
	return nil
}
