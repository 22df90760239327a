package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/reconcile"
)

const matchersFileName = "matchers.yaml"

var ruleNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$`)

// MatcherRulesConfig is the root of matchers.yaml.
type MatcherRulesConfig struct {
	Rules []MatcherRuleConfig `yaml:"rules"`
}

// MatcherRuleConfig describes a rule matcher. Reference and Counterparty are
// regular expressions; at least one of them must be set.
type MatcherRuleConfig struct {
	Name         string              `yaml:"name"`
	Reference    string              `yaml:"reference"`
	Counterparty string              `yaml:"counterparty"`
	Direction    reconcile.Direction `yaml:"direction"`
	Account      AccountRef          `yaml:"account"`
	Memo         string              `yaml:"memo"`
}

// AccountRef names an account by category and name. It is created on
// start-up if it does not exist.
type AccountRef struct {
	Category ledger.AccountCategory `yaml:"category"`
	Name     string                 `yaml:"name"`
}

// LoadMatcherRules reads <configDirPath>/matchers.yaml. A missing file means
// no rules.
func LoadMatcherRules(configDirPath string) ([]MatcherRuleConfig, error) {
	f, err := os.Open(filepath.Join(configDirPath, matchersFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg MatcherRulesConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode %s: %w", matchersFileName, err)
	}

	if err := cfg.verify(); err != nil {
		return nil, err
	}
	return cfg.Rules, nil
}

func (cfg MatcherRulesConfig) verify() error {
	seen := make(map[string]struct{})
	for _, r := range cfg.Rules {
		if !ruleNameRegex.MatchString(r.Name) {
			return fmt.Errorf("invalid matcher rule name '%s', should match snake_case format", r.Name)
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("duplicate matcher rule '%s'", r.Name)
		}
		seen[r.Name] = struct{}{}

		if r.Reference == "" && r.Counterparty == "" {
			return fmt.Errorf("matcher rule '%s' needs a reference or counterparty pattern", r.Name)
		}
		if !r.Direction.Valid() {
			return fmt.Errorf("invalid direction '%s' for matcher rule '%s'", r.Direction, r.Name)
		}
		if !r.Account.Category.Valid() || r.Account.Name == "" {
			return fmt.Errorf("matcher rule '%s' needs an account category and name", r.Name)
		}
		if _, err := r.compile(0); err != nil {
			return err
		}
	}
	return nil
}

// compile turns the config into a reconcile.Rule booking against accountID.
func (r MatcherRuleConfig) compile(accountID uint) (reconcile.Rule, error) {
	rule := reconcile.Rule{
		Name:      r.Name,
		Direction: r.Direction,
		AccountID: accountID,
		Memo:      r.Memo,
	}

	var err error
	if r.Reference != "" {
		if rule.Reference, err = regexp.Compile(r.Reference); err != nil {
			return rule, fmt.Errorf("invalid reference pattern for matcher rule '%s': %w", r.Name, err)
		}
	}
	if r.Counterparty != "" {
		if rule.Counterparty, err = regexp.Compile(r.Counterparty); err != nil {
			return rule, fmt.Errorf("invalid counterparty pattern for matcher rule '%s': %w", r.Name, err)
		}
	}
	return rule, nil
}

// registerRules resolves the account of every rule and registers a rule
// matcher for it with the dispatcher.
func (a *App) registerRules(ctx context.Context, rules []MatcherRuleConfig) error {
	for _, r := range rules {
		account, err := a.store.FindOrCreateAccount(ctx, r.Account.Category, r.Account.Name)
		if err != nil {
			return fmt.Errorf("failed to resolve account of matcher rule '%s': %w", r.Name, err)
		}
		rule, err := r.compile(account.ID)
		if err != nil {
			return err
		}
		a.dispatcher.Register(reconcile.NewRuleMatcher(rule, a.bankAccountID))
		a.logger.Debug("matcher rule registered", "rule", r.Name, "account", account.ID)
	}
	return nil
}
