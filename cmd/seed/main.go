package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/aimerfeng/Earnzy/internal/database"
	"github.com/aimerfeng/Earnzy/internal/fraud"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/task"
)

var demoTasks = []models.SponsoredTask{
	{TaskID: "install-app-01", Title: "Install and open the partner app", PayoutINR: decimal.NewFromInt(10)},
	{TaskID: "survey-brand-02", Title: "Complete a 5 minute brand survey", PayoutINR: decimal.NewFromInt(25)},
	{TaskID: "signup-wallet-03", Title: "Sign up for a wallet account", PayoutINR: decimal.RequireFromString("47.50")},
}

var demoAccounts = []models.Account{
	{UID: "demo-free"},
	{UID: "demo-earner", Coins: 250000, WithdrawableCoins: 250000, TasksCompleted: 12, SponsoredTasksCompleted: 9},
	{UID: "demo-referrer", Coins: 0, WithdrawableCoins: 0},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	migrate := flag.Bool("migrate", true, "Apply pending migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *migrate {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	db, err := database.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	store := ledger.NewStore(db)
	tasks := task.NewService(store, fraud.NewGuard(cfg.Fraud), cfg.Ledger)

	for i := range demoTasks {
		t := demoTasks[i]
		t.PlatformSharePct = decimal.NewFromInt(80)
		t.UserSharePct = decimal.NewFromInt(20)
		if err := tasks.UpsertTask(ctx, &t); err != nil {
			log.Fatal().Err(err).Str("task_id", t.TaskID).Msg("Failed to seed task")
		}
	}

	created := 0
	for i := range demoAccounts {
		a := demoAccounts[i]
		ok, err := store.CreateAccount(ctx, &a)
		if err != nil {
			log.Fatal().Err(err).Str("uid", a.UID).Msg("Failed to seed account")
		}
		if ok {
			created++
		}
	}

	log.Info().
		Int("tasks", len(demoTasks)).
		Int("accounts_created", created).
		Msg("Seed completed")
}
