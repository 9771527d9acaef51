package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total telemetry messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	mirrorUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_updates_total",
		Help: "Total successful fleet mirror updates",
	})
	mirrorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_errors_total",
		Help: "Total fleet mirror errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, mirrorUpdates, mirrorErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "vehicle-telemetry")
	group := getenv("KAFKA_GROUP", "ride-dispatch-consumer")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	geoKey := getenv("REDIS_GEO_KEY", "fleet_geo")

	mirror := geo.NewFleetMirror(redisAddr, os.Getenv("REDIS_PASSWORD"), geoKey)
	defer mirror.Close()

	go func() {
		m := http.NewServeMux()
		m.Handle("/metrics", promhttp.Handler())
		m.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		m.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := mirror.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, m); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		t, ok := decodeTelemetry(m.Value)
		if !ok {
			msgsInvalid.Inc()
			continue
		}

		if err := updateMirrorWithRetry(ctx, mirror, t, 3, 200*time.Millisecond); err != nil {
			mirrorErrors.Inc()
			log.Printf("mirror update failed for vehicle=%s: %v", t.VehicleID, err)
			continue
		}
		mirrorUpdates.Inc()
	}
}

// decodeTelemetry unwraps a car-update envelope. Anything else on the topic
// is ignored as invalid.
func decodeTelemetry(b []byte) (models.Telemetry, bool) {
	var env struct {
		Event string           `json:"event"`
		Data  models.Telemetry `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return models.Telemetry{}, false
	}
	if env.Event != broadcast.EventCarUpdate || env.Data.VehicleID == "" {
		return models.Telemetry{}, false
	}
	return env.Data, true
}

// FleetUpdater is the subset of the mirror the consumer needs, small enough
// to fake in tests.
type FleetUpdater interface {
	Upsert(ctx context.Context, t models.Telemetry) error
}

func updateMirrorWithRetry(ctx context.Context, m FleetUpdater, t models.Telemetry, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = m.Upsert(ctx, t); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
