package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/ups-pglog/internal/apc"
	"github.com/sweeney/ups-pglog/internal/config"
	"github.com/sweeney/ups-pglog/internal/publisher"
	"github.com/sweeney/ups-pglog/internal/recorder"
	"github.com/sweeney/ups-pglog/internal/report"
	"github.com/sweeney/ups-pglog/internal/store"
)

// maxStorageFailures is how many consecutive failed writes loop mode
// tolerates before treating persistence as lost and exiting.
const maxStorageFailures = 10

func main() {
	configPath := flag.String("config", "/etc/ups-pglog/config.toml", "path to config file")
	once := flag.Bool("once", false, "sample once and exit")
	reset := flag.Bool("reset", false, "drop and recreate the schema before sampling")
	flag.Parse()

	// A path the operator typed must exist; only the built-in search
	// locations may be skipped when absent.
	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})

	var cfg *config.Config
	var err error
	if explicitConfig {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(*configPath, "./config.toml")
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pg, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer pg.Close() //nolint:errcheck

	if *reset {
		if err := pg.DropSchema(ctx); err != nil {
			log.Fatalf("resetting schema: %v", err)
		}
	}
	if cfg.Database.Create || *reset {
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("creating schema: %v", err)
		}
	}

	src, err := newSource(cfg.UPS)
	if err != nil {
		log.Fatalf("creating status source: %v", err)
	}
	defer src.Close() //nolint:errcheck

	// MQTT announcements are best-effort extras; a missing broker must not
	// stop logging to the database.
	var pub publisher.Publisher
	if cfg.MQTT.Broker != "" {
		mp, err := publisher.NewMQTTPublisher(cfg.MQTT, cfg.UPS.Name)
		if err != nil {
			log.Printf("mqtt: connect failed, announcements disabled: %v", err)
		} else {
			pub = mp
			defer mp.Close() //nolint:errcheck
			if err := mp.AnnounceOnline(); err != nil {
				log.Printf("mqtt: publishing online announcement: %v", err)
			}
		}
	}

	rec := recorder.New(pg)

	if *once {
		if err := sampleOnce(ctx, src, rec, pub, cfg); err != nil {
			log.Fatalf("sample failed: %v", err)
		}
		return
	}

	log.Printf("ups-pglog starting (source: %s, polling every %s)", cfg.UPS.Source, cfg.UPS.PollInterval)

	ticker := time.NewTicker(cfg.UPS.PollInterval.Duration)
	defer ticker.Stop()

	storageFailures := 0
	for {
		if err := sampleOnce(ctx, src, rec, pub, cfg); err != nil {
			log.Printf("poll error: %v", err)
			var sf *storageFailure
			if errors.As(err, &sf) {
				storageFailures++
				if storageFailures >= maxStorageFailures {
					log.Fatalf("persistence unreachable for %d consecutive polls, giving up", storageFailures)
				}
			}
		} else {
			storageFailures = 0
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Println("shutting down")
			return
		}
	}
}

// storageFailure tags persistence errors so the loop can tell a sustained
// database outage apart from a bad report.
type storageFailure struct {
	err error
}

func (e *storageFailure) Error() string { return e.err.Error() }
func (e *storageFailure) Unwrap() error { return e.err }

// sampleOnce runs one fetch → parse → record cycle, announcing inserted rows
// over MQTT when a publisher is configured.
func sampleOnce(ctx context.Context, src apc.Source, rec *recorder.Recorder, pub publisher.Publisher, cfg *config.Config) error {
	raw, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	rep, err := report.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing status: %w", err)
	}
	if cfg.Log.Debug {
		for _, w := range rep.Warnings {
			log.Printf("parse warning: %s=%q: %v", w.Key, w.Value, w.Err)
		}
	}

	res, err := rec.Record(ctx, rep)
	if err != nil {
		// A report without a usable DATE is a bad report, not a lost
		// database; only errors from the store count toward the fatal
		// threshold.
		if errors.Is(err, recorder.ErrNoTimestamp) {
			return fmt.Errorf("recording sample: %w", err)
		}
		return &storageFailure{err: err}
	}
	if cfg.Log.Verbose || cfg.Log.Debug {
		switch {
		case res.InsertedObservation && res.InsertedTransfer:
			log.Printf("recorded observation and transfer at %s", rep.Timestamp)
		case res.InsertedObservation:
			log.Printf("recorded observation at %s", rep.Timestamp)
		case res.InsertedTransfer:
			log.Printf("recorded transfer at %s", rep.Timestamp)
		default:
			log.Printf("nothing new at %s", rep.Timestamp)
		}
	}

	if pub != nil {
		announce(res, rep, pub, cfg)
	}
	return nil
}

// announce publishes whatever the sample inserted.  Failures are logged and
// swallowed: the rows are already durable.
func announce(res recorder.Result, rep *report.Report, pub publisher.Publisher, cfg *config.Config) {
	pubCfg := publisher.PublishConfig{
		Prefix:   cfg.MQTT.TopicPrefix,
		UPSName:  cfg.UPS.Name,
		Retained: cfg.MQTT.Retained,
	}
	if res.InsertedObservation {
		obs := store.Observation{
			Timestamp:      rep.Timestamp,
			Status:         rep.Status,
			LineVoltage:    rep.LineVoltage,
			BatteryVoltage: rep.BatteryVoltage,
			BatteryCharge:  rep.BatteryCharge,
			TimeLeft:       rep.TimeLeft,
			OnBattery:      rep.OnBattery(),
		}
		if w, ok := rep.LoadWatts(); ok {
			obs.LoadWatts = &w
		}
		if err := publisher.PublishObservation(obs, pubCfg, pub); err != nil {
			log.Printf("mqtt: publishing observation: %v", err)
		}
	}
	if res.InsertedTransfer {
		if info, ok := rep.LastTransfer(); ok {
			tr := store.Transfer{Timestamp: info.Timestamp, ToBattery: info.ToBattery, Reason: info.Reason}
			if err := publisher.PublishTransfer(tr, pubCfg, pub); err != nil {
				log.Printf("mqtt: publishing transfer: %v", err)
			}
		}
	}
}

// newSource builds the configured status source.
func newSource(cfg config.UPSConfig) (apc.Source, error) {
	switch cfg.Source {
	case "nis":
		return apc.NewNISSource(cfg.NISAddr)
	case "exec":
		return apc.NewExecSource(cfg.ClientPath), nil
	}
	return nil, fmt.Errorf("unknown status source %q", cfg.Source)
}
