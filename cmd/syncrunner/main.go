// syncrunner is the scheduler entry point: one invocation walks the whole
// button fleet sequentially, syncing and optionally matching. A button that
// fails outright never stops the pass; its outcome lands in the sync log and
// the process moves on.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/uuid"

	"github.com/nportel/conciliador/internal/config"
	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/events"
	"github.com/nportel/conciliador/internal/events/kafka"
	"github.com/nportel/conciliador/internal/processor"
	"github.com/nportel/conciliador/internal/reconcile"
	"github.com/nportel/conciliador/internal/store"
	"github.com/nportel/conciliador/internal/syncer"
)

var (
	orgFilter    string
	runMatch     bool
	runBackfill  bool
	runReconcile bool
)

func init() {
	flag.StringVar(&orgFilter, "org", "", "Only process buttons of this organization id")
	flag.BoolVar(&runMatch, "match", false, "Run processor-driven matching after sync")
	flag.BoolVar(&runBackfill, "backfill", false, "Backfill missing expected pay dates")
	flag.BoolVar(&runReconcile, "reconcile", false, "Run heuristic reconciliation per organization")
}

func main() {
	flag.Parse()

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

	newClient := func(b domain.PaymentButton) *processor.HTTPClient {
		return processor.NewHTTPClient(cfg.ProcessorBaseURL, processor.Credentials{
			GUID:   b.APIGuid,
			Phrase: b.APIPhrase,
		}, cfg.ProcessorTimeout)
	}
	syncEngine := syncer.New(db, func(b domain.PaymentButton) syncer.Client { return newClient(b) }, publisher)
	matchEngine := reconcile.New(db, func(b domain.PaymentButton) reconcile.Lookup { return newClient(b) }, publisher)

	ctx := context.Background()

	buttons, err := listButtons(ctx, db)
	if err != nil {
		log.Fatalf("Listing buttons: %v", err)
	}
	log.Printf("Fleet pass over %d buttons", len(buttons))

	for _, button := range buttons {
		res := syncEngine.SyncButton(ctx, button)
		logSync(button, "transactions", res.Transactions)
		logSync(button, "liquidations", res.Liquidations)

		if runBackfill {
			bf := matchEngine.BackfillExpectedDates(ctx, button)
			log.Printf("button %s (%s): backfill updated=%d success=%v", button.Name, button.ID, bf.Updated, bf.Success)
		}
		if runMatch {
			mr := matchEngine.MatchViaProcessor(ctx, button)
			log.Printf("button %s (%s): processor match matched=%d success=%v", button.Name, button.ID, mr.Matched, mr.Success)
		}
	}

	if runReconcile {
		orgs, err := listOrganizations(ctx, db)
		if err != nil {
			log.Fatalf("Listing organizations: %v", err)
		}
		for _, org := range orgs {
			rr := matchEngine.Reconcile(ctx, org.ID)
			log.Printf("organization %s (%s): matched=%d pending=%d success=%v", org.Name, org.ID, rr.Matched, rr.Pending, rr.Success)
		}
	}
}

func listButtons(ctx context.Context, db *store.Store) ([]domain.PaymentButton, error) {
	if orgFilter == "" {
		return db.ListButtons(ctx)
	}
	orgID, err := uuid.Parse(orgFilter)
	if err != nil {
		return nil, err
	}
	return db.ListButtonsByOrganization(ctx, orgID)
}

func listOrganizations(ctx context.Context, db *store.Store) ([]domain.Organization, error) {
	orgs, err := db.ListOrganizations(ctx)
	if err != nil || orgFilter == "" {
		return orgs, err
	}
	filtered := orgs[:0]
	for _, o := range orgs {
		if o.ID.String() == orgFilter {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

func logSync(button domain.PaymentButton, entity string, res domain.SyncResult) {
	if res.Success {
		log.Printf("button %s (%s): %s sync created=%d updated=%d skipped=%d",
			button.Name, button.ID, entity, res.Created, res.Updated, res.Skipped)
		return
	}
	log.Printf("button %s (%s): %s sync FAILED: %s", button.Name, button.ID, entity, res.Error)
}
