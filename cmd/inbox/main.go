package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adamw/Draft-Commander/internal/config"
	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/marketplace"
	"github.com/adamw/Draft-Commander/internal/pipeline"
	"github.com/adamw/Draft-Commander/internal/queue"
	"github.com/adamw/Draft-Commander/internal/store"
	"github.com/adamw/Draft-Commander/internal/templates"
)

// inbox lists every folder under the inbox directory in one batch and exits
// when the queue drains.
func main() {
	cfg := config.Load()

	dir := flag.String("dir", cfg.InboxDir, "inbox directory of product photo folders")
	publish := flag.Bool("publish", cfg.AutoPublish, "publish listings instead of leaving drafts")
	template := flag.String("template", "", "template ID to pre-fill listing fields")
	flag.Parse()

	if err := logger.Init("draft-commander-inbox", filepath.Join(cfg.DataDir, "logs")); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Close()
	log := logger.Logger

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("Cannot read inbox directory")
	}

	jobStore, err := store.NewFileStore(filepath.Join(cfg.DataDir, "queue_state.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer jobStore.Close()

	tpl, err := templates.NewStore(filepath.Join(cfg.DataDir, "templates.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open template store")
	}

	drafter := marketplace.NewHTTPDrafter(cfg.DrafterURL, cfg.StageTimeout)
	client := marketplace.NewHTTPClient(marketplace.ClientConfig{
		Token:             cfg.UserToken,
		TaxonomyURL:       cfg.TaxonomyURL,
		InventoryURL:      cfg.InventoryURL,
		MediaURL:          cfg.MediaURL,
		MarketplaceID:     cfg.MarketplaceID,
		FulfillmentPolicy: cfg.FulfillmentPolicy,
		PaymentPolicy:     cfg.PaymentPolicy,
		ReturnPolicy:      cfg.ReturnPolicy,
		MerchantLocation:  cfg.MerchantLocation,
	})

	exec := pipeline.NewExecutor(drafter, client, pipeline.Config{
		MaxAttempts:      cfg.MaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		StageTimeout:     cfg.StageTimeout,
		MaxImages:        cfg.MaxImages,
		DefaultPrice:     cfg.DefaultPrice,
		DefaultCondition: cfg.DefaultCondition,
	})

	manager := queue.NewManager(jobStore, exec, tpl, queue.Config{
		WorkerCount:        cfg.WorkerCount,
		PollInterval:       cfg.PollInterval,
		MaxAttempts:        cfg.MaxAttempts,
		DefaultAutoPublish: *publish,
	})
	manager.Start()
	defer manager.Stop()

	service := queue.NewService(manager)

	var submitted []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := filepath.Join(*dir, entry.Name())
		id, err := service.Submit(folder, queue.Options{TemplateID: *template})
		if err != nil {
			log.Warn().Err(err).Str("folder", folder).Msg("Skipping folder")
			continue
		}
		submitted = append(submitted, id)
	}

	if len(submitted) == 0 {
		log.Info().Msg("Nothing to do")
		return
	}
	log.Info().Int("count", len(submitted)).Msg("Batch submitted, waiting for queue to drain")

	waitForDrain(service, submitted)
	printSummary(service, submitted)
}

func waitForDrain(service *queue.Service, ids []string) {
	for {
		done := 0
		for _, id := range ids {
			job, err := service.Status(id)
			if err != nil || job.Terminal() {
				done++
			}
		}
		if done == len(ids) {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func printSummary(service *queue.Service, ids []string) {
	for _, id := range ids {
		job, err := service.Status(id)
		if err != nil {
			fmt.Printf("%s  <lost: %v>\n", id, err)
			continue
		}
		switch job.State {
		case jobs.StateSucceeded:
			fmt.Printf("%s  %-24s published  listing=%s\n", job.ID, job.FolderName, job.Result.ListingID)
		case jobs.StateSucceededDraft:
			fmt.Printf("%s  %-24s draft      offer=%s (%s)\n", job.ID, job.FolderName, job.Result.OfferID, errMessage(job))
		case jobs.StateFailed:
			fmt.Printf("%s  %-24s FAILED at %s: %s\n", job.ID, job.FolderName, job.Stage, errMessage(job))
		default:
			fmt.Printf("%s  %-24s %s\n", job.ID, job.FolderName, job.State)
		}
	}
}

func errMessage(job *jobs.Job) string {
	if job.Error == nil {
		return ""
	}
	return job.Error.Message
}
