package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/henryk/byro/pkg/accrual"
	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/members"
	"github.com/henryk/byro/pkg/reconcile"
)

// App wires the stores and engines together over one database.
type App struct {
	logger        log.Logger
	store         *ledger.Store
	directory     *members.Directory
	settings      ledger.Settings
	bankAccountID uint
	accrual       *accrual.Engine
	dispatcher    *reconcile.Dispatcher
	processor     *reconcile.Processor
}

func NewApp(ctx context.Context, db *gorm.DB, conf BookkeepingConfig, rules []MatcherRuleConfig, logger log.Logger) (*App, error) {
	store := ledger.NewStore(db, logger)

	settings, bank, err := resolveSettings(ctx, store, conf)
	if err != nil {
		return nil, err
	}

	directory := members.NewDirectory(db, logger)
	engine, err := accrual.NewEngine(store, directory, settings, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := reconcile.NewDispatcher(settings, logger, reconcile.NewMemberFeeMatcher(directory, bank.ID))

	app := &App{
		logger:        log.OrNoop(logger),
		store:         store,
		directory:     directory,
		settings:      settings,
		bankAccountID: bank.ID,
		accrual:       engine,
		dispatcher:    dispatcher,
		processor:     reconcile.NewProcessor(store, dispatcher, logger),
	}
	if err := app.registerRules(ctx, rules); err != nil {
		return nil, err
	}
	return app, nil
}

// resolveSettings finds or creates the designated accounts and returns them
// as Settings together with the bank account.
func resolveSettings(ctx context.Context, store *ledger.Store, conf BookkeepingConfig) (ledger.Settings, *ledger.Account, error) {
	var err error
	resolve := func(category ledger.AccountCategory, name string) *ledger.Account {
		if err != nil {
			return nil
		}
		var account *ledger.Account
		if account, err = store.FindOrCreateAccount(ctx, category, name); err != nil {
			err = fmt.Errorf("failed to resolve %s account %q: %w", category, name, err)
		}
		return account
	}

	fees := resolve(ledger.CategoryIncome, conf.FeesAccount)
	receivable := resolve(ledger.CategoryAsset, conf.ReceivableAccount)
	donations := resolve(ledger.CategoryIncome, conf.DonationsAccount)
	bank := resolve(ledger.CategoryAsset, conf.BankAccount)
	if err != nil {
		return ledger.Settings{}, nil, err
	}

	settings := ledger.Settings{
		FeesAccountID:           fees.ID,
		FeesReceivableAccountID: receivable.ID,
		DonationsAccountID:      donations.ID,
		LiabilityIntervalMonths: conf.LiabilityInterval,
	}
	if err := settings.Validate(); err != nil {
		return ledger.Settings{}, nil, err
	}
	return settings, bank, nil
}
