package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eracle/linkreach/internal/actions"
	"github.com/eracle/linkreach/internal/auth"
	"github.com/eracle/linkreach/internal/browser"
	"github.com/eracle/linkreach/internal/campaign"
	"github.com/eracle/linkreach/internal/config"
	"github.com/eracle/linkreach/internal/input"
	"github.com/eracle/linkreach/internal/logging"
	"github.com/eracle/linkreach/internal/models"
	"github.com/eracle/linkreach/internal/stealth"
	"github.com/eracle/linkreach/internal/store"
)

func main() {
	ctx := context.Background()

	var cfgPath, accountsFlag string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&accountsFlag, "accounts", "", "Comma-separated account handles (default: all configured)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `linkreach - LinkedIn outreach campaign engine

Usage:
  linkreach [--config config.yaml] [--accounts a,b] <command>

Commands:
  login    Ensure a logged-in session (with cookie reuse)
  tick     Run one pass over the campaign input set
  run      Tick until every profile is completed or failed
  status   Print campaign run counters and profile states

Examples:
  linkreach --config config.yaml login
  linkreach --accounts sales-eu,sales-us run
`)
	}

	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level)
	log.Info("linkreach starting", "version", "0.2.0", "campaign", cfg.Campaign.Name)

	accounts, err := selectAccounts(cfg, accountsFlag)
	if err != nil {
		log.Error("account selection failed", "err", err)
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	log.Info("executing command", "command", cmd, "accounts", len(accounts))
	switch cmd {
	case "login":
		err = forEachAccount(ctx, accounts, func(ctx context.Context, acc config.Account) error {
			return runLogin(ctx, cfg, acc)
		})
	case "tick":
		err = forEachAccount(ctx, accounts, func(ctx context.Context, acc config.Account) error {
			return runCampaign(ctx, cfg, acc, true)
		})
	case "run":
		err = forEachAccount(ctx, accounts, func(ctx context.Context, acc config.Account) error {
			return runCampaign(ctx, cfg, acc, false)
		})
	case "status":
		err = forEachAccount(ctx, accounts, func(ctx context.Context, acc config.Account) error {
			return runStatus(ctx, cfg, acc)
		})
	default:
		err = fmt.Errorf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Error("command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
	log.Info("command completed", "cmd", cmd)
}

func selectAccounts(cfg *config.Config, accountsFlag string) ([]config.Account, error) {
	if accountsFlag == "" {
		return cfg.Accounts, nil
	}
	var out []config.Account
	for _, handle := range strings.Split(accountsFlag, ",") {
		acc, err := cfg.AccountByHandle(strings.TrimSpace(handle))
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// forEachAccount runs fn for every account in parallel. Accounts share
// nothing: each one gets its own store, browser and session.
func forEachAccount(ctx context.Context, accounts []config.Account, fn func(context.Context, config.Account) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, acc := range accounts {
		acc := acc
		g.Go(func() error {
			if err := fn(ctx, acc); err != nil {
				return fmt.Errorf("account %s: %w", acc.Handle, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runLogin(ctx context.Context, cfg *config.Config, acc config.Account) error {
	br, err := browser.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer br.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return auth.New(br, cfg, acc).EnsureLoggedIn(ctx)
}

func runCampaign(ctx context.Context, cfg *config.Config, acc config.Account, singleTick bool) error {
	log := logging.New(cfg.Logging.Level).With("handle", acc.Handle)

	urls, hash, err := input.Load(cfg.Campaign.InputCSV)
	if err != nil {
		return err
	}
	st, err := store.Open(acc.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	br, err := browser.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer br.Close()
	if err := auth.New(br, cfg, acc).EnsureLoggedIn(ctx); err != nil {
		return err
	}

	if !stealth.InActiveWindow(cfg.Stealth.ActiveStart, cfg.Stealth.ActiveEnd) {
		log.Warn("outside configured active window, continuing anyway",
			"active_hours", cfg.Stealth.ActiveStart+"-"+cfg.Stealth.ActiveEnd)
	}

	acts := actions.New(br, cfg, acc.Handle)
	defer acts.Close()

	key := models.RunKey{Campaign: cfg.Campaign.Name, Handle: acc.Handle, InputHash: hash}
	machine := campaign.NewMachine(st, acts, key, cfg.Campaign.MaxRetries, log)
	runner := campaign.NewRunner(st, machine, key, urls, log)
	runner.Pace = func() {
		stealth.SleepRandom(cfg.Stealth.MinDelayMs+300, cfg.Stealth.MaxDelayMs+900)
	}

	if singleTick {
		if _, err := runner.Start(ctx); err != nil {
			return err
		}
		_, err := runner.RunTick(ctx)
		return err
	}
	return runner.Run(ctx, time.Duration(cfg.Campaign.TickIntervalMin)*time.Minute)
}

func runStatus(ctx context.Context, cfg *config.Config, acc config.Account) error {
	urls, hash, err := input.Load(cfg.Campaign.InputCSV)
	if err != nil {
		return err
	}
	st, err := store.Open(acc.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	key := models.RunKey{Campaign: cfg.Campaign.Name, Handle: acc.Handle, InputHash: hash}
	run, err := st.GetCampaignRun(ctx, key)
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Printf("[%s] no campaign run yet for input hash %s (%d urls)\n", acc.Handle, hash, len(urls))
		return nil
	}
	states, err := st.CountByState(ctx)
	if err != nil {
		return err
	}
	unsynced, err := st.UnsyncedProfiles(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] run %s started %s\n", acc.Handle, run.ShortID, run.StartedAt.Format(time.RFC3339))
	fmt.Printf("  total=%d enriched=%d connect_sent=%d accepted=%d followup_sent=%d completed=%d\n",
		run.TotalProfiles, run.Enriched, run.ConnectSent, run.Accepted, run.FollowupSent, run.Completed)
	fmt.Printf("  states: %v\n", states)
	fmt.Printf("  profiles awaiting cloud sync: %d\n", len(unsynced))
	return nil
}
