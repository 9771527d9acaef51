package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/geocode"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/sim"
	"github.com/example/ride-dispatch/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel, cfg.LogFormat)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
		} else {
			logger.Info("migrations applied")
		}
	}

	vehicles := store.NewVehicleStore()
	requests := store.NewRequestStore()

	var history store.HistoryStore = store.NewMemoryHistory()
	if cfg.PGDSN != "" {
		if pg, err := store.NewPostgresHistory(cfg.PGDSN); err != nil {
			logger.Error("postgres history unavailable, using memory", "error", err)
		} else {
			history = pg
			defer pg.Close()
		}
	}

	var fleet *geo.FleetMirror
	if cfg.RedisAddr != "" {
		fleet = geo.NewFleetMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer fleet.Close()
	}

	wsreg := broadcast.NewWSRegistry(logger)
	notifiers := broadcast.Multi{wsreg}
	if len(cfg.KafkaBrokers) > 0 {
		kt := broadcast.NewKafkaTelemetry(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kt.Close()
		notifiers = append(notifiers, kt)
	}

	var routes route.Provider = route.WithFallback{}
	var geocoder geocode.Geocoder
	if cfg.GoogleMapsKey != "" {
		if gp, err := route.NewGoogleProvider(cfg.GoogleMapsKey); err != nil {
			logger.Error("google routing unavailable, falling back to straight lines", "error", err)
		} else {
			routes = route.NewCache(route.WithFallback{Inner: gp}, 10*time.Minute)
		}
		if gg, err := geocode.NewGoogle(cfg.GoogleMapsKey); err == nil {
			geocoder = gg
		}
	}

	var fares payments.FareHolder
	if cfg.StripeKey != "" {
		fares = payments.NewStripeClient(cfg.StripeKey)
	}

	ledger := payments.NewMemoryLedger()

	simulator := &sim.Simulator{
		Vehicles: vehicles,
		Requests: requests,
		History:  history,
		Routes:   routes,
		Geocoder: geocoder,
		Ledger:   ledger,
		Fares:    fares,
		Notifier: notifiers,
		Tasks:    sim.NewSupervisor(),
		Logger:   logger,
		Cfg: sim.Config{
			StepDelay:           cfg.StepDelay,
			SubStepsPerWaypoint: cfg.SubStepsPerWaypoint,
			BatteryDrain:        cfg.BatteryDrain,
			DrainPeriod:         cfg.DrainPeriod,
			PickupPause:         cfg.PickupPause,
			CompletionThreshold: cfg.CompletionThreshold,
			ChargeTick:          cfg.ChargeTick,
			ChargeIncrement:     cfg.ChargeIncrement,
		},
	}

	matcher := &dispatch.Matcher{
		Vehicles:     vehicles,
		Requests:     requests,
		History:      history,
		Geocoder:     geocoder,
		Notifier:     notifiers,
		Runner:       simulator,
		Fares:        fares,
		Logger:       logger,
		OfferTimeout: cfg.OfferTimeout,
		MinBattery:   cfg.MinBattery,
	}

	// a previous crash may have stranded vehicles mid-task
	if n := vehicles.ResetStuck(); n > 0 {
		logger.Info("recovery sweep reset vehicles", "count", n)
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Matcher:  matcher,
		Sim:      simulator,
		Vehicles: vehicles,
		Requests: requests,
		History:  history,
		Ledger:   ledger,
		Fleet:    fleet,
		Notifier: notifiers,
		WSReg:    wsreg,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_history.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
