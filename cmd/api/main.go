package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nportel/conciliador/internal/api"
	"github.com/nportel/conciliador/internal/config"
	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/events"
	"github.com/nportel/conciliador/internal/events/kafka"
	"github.com/nportel/conciliador/internal/processor"
	"github.com/nportel/conciliador/internal/reconcile"
	"github.com/nportel/conciliador/internal/report"
	"github.com/nportel/conciliador/internal/store"
	"github.com/nportel/conciliador/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.New(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	// One processor client per button, built from that button's credentials.
	newClient := func(b domain.PaymentButton) *processor.HTTPClient {
		return processor.NewHTTPClient(cfg.ProcessorBaseURL, processor.Credentials{
			GUID:   b.APIGuid,
			Phrase: b.APIPhrase,
		}, cfg.ProcessorTimeout)
	}

	syncEngine := syncer.New(db, func(b domain.PaymentButton) syncer.Client { return newClient(b) }, publisher)
	matchEngine := reconcile.New(db, func(b domain.PaymentButton) reconcile.Lookup { return newClient(b) }, publisher)
	aggregator := report.New(db)
	handler := api.NewHandler(db, syncEngine, matchEngine, aggregator)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/buttons/{id}/sync", handler.SyncButtonHandler).Methods("POST")
	apiV1.HandleFunc("/buttons/{id}/match", handler.MatchButtonHandler).Methods("POST")
	apiV1.HandleFunc("/buttons/{id}/backfill", handler.BackfillButtonHandler).Methods("POST")
	apiV1.HandleFunc("/buttons/{id}/synclog", handler.SyncLogHandler).Methods("GET")
	apiV1.HandleFunc("/organizations/{id}/reconcile", handler.ReconcileOrganizationHandler).Methods("POST")
	apiV1.HandleFunc("/organizations/{id}/summary", handler.SummaryHandler).Methods("GET")

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
