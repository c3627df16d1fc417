package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/catalog"
	"github.com/mExOms/sor/internal/config"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	seedPath   string
	symbol     string
	side       string
	quantity   string
	limit      string
	volatility float64
	spread     float64
	condition  string
	timeOfDay  string
	at         string
	logLevel   string
	compact    bool
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("route-sim", pflag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Config file for routing settings")
	fs.StringVar(&opts.seedPath, "seed", "configs/seed.yaml", "Seed catalogue file")
	fs.StringVar(&opts.symbol, "symbol", "TCS", "Instrument symbol")
	fs.StringVar(&opts.side, "side", "BUY", "Order side (BUY or SELL)")
	fs.StringVarP(&opts.quantity, "qty", "q", "1000", "Order quantity")
	fs.StringVar(&opts.limit, "limit", "", "Limit price")
	fs.Float64Var(&opts.volatility, "volatility", 0.01, "Current volatility")
	fs.Float64Var(&opts.spread, "spread", 0.0005, "Current spread")
	fs.StringVar(&opts.condition, "condition", "NORMAL", "Market condition (NORMAL, VOLATILE, QUIET)")
	fs.StringVar(&opts.timeOfDay, "time", "", "Trading time of day HH:MM (defaults to --at)")
	fs.StringVar(&opts.at, "at", "", "Order timestamp RFC3339 (defaults to now)")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	fs.BoolVar(&opts.compact, "compact", false, "Print compact JSON")
	fs.Parse(os.Args[1:])

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "route-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	logger, err := monitor.NewLogger(monitor.LogOptions{Level: opts.logLevel, Format: "text"})
	if err != nil {
		return err
	}
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	order, err := buildOrder(opts)
	if err != nil {
		return err
	}

	seed, err := catalog.LoadFile(opts.seedPath)
	if err != nil {
		return err
	}

	venues := venue.NewRegistry(monitor.Component(logger, "venue-registry"))
	algos := algorithm.NewCatalog(cfg.Routing.PerformanceWindow, monitor.Component(logger, "algorithm-catalog"))
	ruleSet := rules.NewSet(monitor.Component(logger, "rule-set"))
	// seed metrics are stamped with the order time so they are never stale
	if err := seed.Apply(venues, algos, ruleSet, order.Timestamp); err != nil {
		return err
	}

	service := router.NewRoutingService(cfg.Routing.Router(),
		&router.RegistryProvider{Venues: venues, Algorithms: algos, Rules: ruleSet},
		router.WithLogger(monitor.Component(logger, "routing-service")),
	)

	decision, err := service.RouteOrder(context.Background(), order)
	if err != nil {
		logger.WithField("kind", router.ErrorKind(err)).Debug("Routing failed")
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if !opts.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(decision)
}

func buildOrder(opts options) (types.OrderContext, error) {
	side, err := types.ParseOrderSide(opts.side)
	if err != nil {
		return types.OrderContext{}, err
	}
	qty, err := decimal.NewFromString(opts.quantity)
	if err != nil {
		return types.OrderContext{}, fmt.Errorf("invalid quantity %q: %w", opts.quantity, err)
	}
	condition, err := types.ParseMarketCondition(opts.condition)
	if err != nil {
		return types.OrderContext{}, err
	}

	ts := time.Now()
	if opts.at != "" {
		if ts, err = time.Parse(time.RFC3339, opts.at); err != nil {
			return types.OrderContext{}, fmt.Errorf("invalid --at: %w", err)
		}
	}
	minute := ts.Hour()*60 + ts.Minute()
	if opts.timeOfDay != "" {
		if minute, err = types.ParseMinuteOfDay(opts.timeOfDay); err != nil {
			return types.OrderContext{}, err
		}
	}

	order := types.OrderContext{
		OrderID:         "sim-" + ts.Format("150405"),
		Symbol:          opts.symbol,
		Side:            side,
		Quantity:        qty,
		Volatility:      opts.volatility,
		Spread:          opts.spread,
		MarketCondition: condition,
		TimeOfDay:       minute,
		Timestamp:       ts,
	}
	if opts.limit != "" {
		limit, err := decimal.NewFromString(opts.limit)
		if err != nil {
			return types.OrderContext{}, fmt.Errorf("invalid limit %q: %w", opts.limit, err)
		}
		order.LimitPrice = &limit
	}
	return order, nil
}
