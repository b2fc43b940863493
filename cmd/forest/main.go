package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"mintforest/internal/browser"
	"mintforest/internal/campaign"
	"mintforest/internal/config"
	"mintforest/internal/forest"
	"mintforest/internal/importer"
	"mintforest/internal/logbus"
	"mintforest/internal/model"
	"mintforest/internal/monitor"
	"mintforest/internal/notify"
	"mintforest/internal/platform"
	"mintforest/internal/social/twitter"
	"mintforest/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	importPath := flag.String("import", "", "import accounts from a CSV file and exit")
	deleteAddr := flag.String("delete-account", "", "delete the account with this wallet address and exit")
	groupsArg := flag.String("groups", "", "comma-separated group names to run (empty runs all)")
	listGroups := flag.Bool("list-groups", false, "print stored group names and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	defer bus.Close()
	bus.SetConsole(os.Stdout, cfg.Logging.Level)

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if *importPath != "" {
		res, err := importer.New(store, bus).ImportFile(ctx, *importPath)
		if err != nil {
			log.Fatalf("import: %v", err)
		}
		fmt.Printf("imported %d accounts, skipped %d rows\n", res.Imported, res.Skipped)
		return
	}

	if *deleteAddr != "" {
		acc, err := store.GetAccountByAddress(ctx, *deleteAddr)
		if err != nil {
			log.Fatalf("delete account: %v", err)
		}
		if err := store.DeleteAccount(ctx, acc.ID); err != nil {
			log.Fatalf("delete account: %v", err)
		}
		fmt.Printf("deleted account %s (%s)\n", acc.Name, acc.Address)
		return
	}

	if *listGroups {
		groups, err := store.ListGroups(ctx)
		if err != nil {
			log.Fatalf("list groups: %v", err)
		}
		for _, g := range groups {
			fmt.Println(g)
		}
		return
	}

	var groups []string
	for _, g := range strings.Split(*groupsArg, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}

	var notifier notify.Notifier
	var emailNotifier *notify.EmailNotifier
	if cfg.Notify.Enabled {
		emailNotifier, err = notify.NewEmailNotifier(cfg.Notify, bus)
		if err != nil {
			log.Fatalf("notify: %v", err)
		}
		notifier = emailNotifier
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Platform.GlobalQPS), cfg.Platform.Burst)
	ignored := make(map[int64]bool, len(cfg.Campaign.IgnoredTaskIDs))
	for _, id := range cfg.Campaign.IgnoredTaskIDs {
		ignored[id] = true
	}

	sessions := forest.Options{
		Store: store,
		Bus:   bus,
		Platform: func(acc model.Account) *platform.Client {
			proxy := acc.Proxy
			if proxy == "" {
				proxy = cfg.Proxy.Global
			}
			return platform.New(platform.Options{
				BaseURL:   cfg.Platform.BaseURL,
				Timeout:   cfg.Platform.Timeout(),
				UserAgent: cfg.Platform.UserAgent,
				Proxy:     proxy,
				Limiter:   limiter,
			})
		},
		Twitter: &forest.HTTPTwitterProvider{
			UserAgent: cfg.Platform.UserAgent,
			Timeout:   cfg.Platform.Timeout(),
			Browser:   browser.NewFlow(),
			Unlock: twitter.UnlockOptions{
				CapsolverKey: cfg.Twitter.CapsolverKey,
				Attempts:     cfg.Twitter.UnlockAttempts,
			},
		},
		Discord: &forest.HTTPDiscordProvider{
			UserAgent: cfg.Platform.UserAgent,
			Timeout:   cfg.Platform.Timeout(),
			Guild: forest.GuildParams{
				InviteCode:      cfg.Discord.GuildInviteCode,
				GuildID:         cfg.Discord.GuildID,
				VerifyChannelID: cfg.Discord.VerifyChannelID,
				VerifyMessageID: cfg.Discord.VerifyMessageID,
				VerifyReaction:  cfg.Discord.VerifyReaction,
				OAuth2:          forest.DiscordOAuth2Request,
			},
		},
		MinFollowers:   cfg.Twitter.MinFollowers,
		GuildID:        cfg.Discord.GuildID,
		IgnoredTaskIDs: ignored,
		GlobalProxy:    cfg.Proxy.Global,
	}

	camp := campaign.New(campaign.Options{
		Store:    store,
		Bus:      bus,
		Sessions: sessions,
		Config:   cfg.Campaign,
		Notifier: notifier,
	})

	var monitorServer *http.Server
	if cfg.Monitor.Addr != "" {
		api := monitor.New(monitor.Options{
			Cfg:      cfg.Monitor,
			Bus:      bus,
			Store:    store,
			Campaign: camp,
		})
		monitorServer = &http.Server{
			Addr:              cfg.Monitor.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := monitorServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				bus.Log("error", "monitor server error", map[string]any{"error": err.Error()})
			}
		}()
		bus.Log("info", "monitor listening", map[string]any{"addr": cfg.Monitor.Addr})
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := camp.Run(runCtx, groups)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if monitorServer != nil {
		_ = monitorServer.Shutdown(shutdownCtx)
	}
	if emailNotifier != nil {
		_ = emailNotifier.Close(shutdownCtx)
	}

	if runErr != nil {
		bus.Log("error", "campaign error", map[string]any{"error": runErr.Error()})
		os.Exit(1)
	}
}
