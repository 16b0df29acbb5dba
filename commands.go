package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cppla/goaltrack/config"
	"github.com/cppla/goaltrack/controllers"
	"github.com/cppla/goaltrack/goals"
	"github.com/cppla/goaltrack/kvstore"
	"github.com/cppla/goaltrack/models"
	"github.com/cppla/goaltrack/routes"
	"github.com/cppla/goaltrack/routine"
	"github.com/cppla/goaltrack/utils"
)

// app holds the long-lived pieces every command shares.
type app struct {
	cfg         config.AppConfig
	store       kvstore.Store
	clients     controllers.ClientFactory
	coordinator *routine.Coordinator
}

func newApp() (*app, error) {
	cfg := config.Get()
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	cache := goals.NewCache(store, utils.Sugar)
	httpClient := &http.Client{Transport: http.DefaultTransport}
	return &app{
		cfg:     cfg,
		store:   store,
		clients: controllers.NewClientFactory(cfg, cache, httpClient, utils.Sugar, time.Now),
		coordinator: routine.NewCoordinator(store, routine.Options{
			Logger:   utils.Sugar,
			Location: cfg.Location(),
			LeaseTTL: time.Duration(cfg.ResetLeaseSec) * time.Second,
		}),
	}, nil
}

func openStore(cfg config.AppConfig) (kvstore.Store, error) {
	var deps kvstore.Dependencies
	switch cfg.MarkerStore {
	case kvstore.BackendRedis:
		deps.Redis = utils.GetRedis()
	case kvstore.BackendSQL:
		db, err := config.InitDatabase(cfg, &models.KVEntry{})
		if err != nil {
			return nil, err
		}
		deps.SQL = db
	}
	return kvstore.Open(cfg.MarkerStore, deps)
}

// bearerFor returns the token CLI commands call the goal API with.
func bearerFor(cfg config.AppConfig, flagToken string) string {
	if flagToken != "" {
		return flagToken
	}
	return cfg.GoalAPIToken
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set to serve")
			}
			r := routes.SetupRouter(routes.Deps{
				Config:      a.cfg,
				Clients:     a.clients,
				Coordinator: a.coordinator,
				Now:         time.Now,
			})
			utils.Sugar.Infof("Starting server on port %s (graceful) store=%s goal_api=%s", a.cfg.AppPort, a.cfg.MarkerStore, a.cfg.GoalAPIBaseURL)
			return utils.GraceServer(":"+a.cfg.AppPort, r)
		},
	}
}

func resetCmd() *cobra.Command {
	var userID, token string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Run the daily routine reset check for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			client := a.clients(userID, bearerFor(a.cfg, token), "")
			report := a.coordinator.CheckAndReset(cmd.Context(), userID, client)
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the goal API (defaults to the configured service token)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func goalsCmd() *cobra.Command {
	var userID, token string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's goals as the goal API returns them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			res := a.clients(userID, bearerFor(a.cfg, token), "").FetchAll(cmd.Context(), userID)
			if res.Outcome == goals.OutcomeFailed {
				return fmt.Errorf("fetch goals: %w", res.Err)
			}
			return printJSON(cmd, res.Goals)
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	list.Flags().StringVar(&token, "token", "", "bearer token for the goal API")
	_ = list.MarkFlagRequired("user")

	cmd := &cobra.Command{Use: "goals", Short: "Inspect goals"}
	cmd.AddCommand(list)
	return cmd
}

func markerCmd() *cobra.Command {
	var userID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the user's last reset date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			day, ok, err := a.coordinator.Markers().Last(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println("no reset recorded")
				return nil
			}
			cmd.Println(goals.FormatDay(day))
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the user's last reset date so the next check resets again",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.coordinator.Markers().Clear(cmd.Context(), userID); err != nil {
				return err
			}
			cmd.Printf("cleared reset marker for %s\n", userID)
			return nil
		},
	}
	cmd := &cobra.Command{Use: "marker", Short: "Inspect or clear daily reset markers"}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkPersistentFlagRequired("user")
	cmd.AddCommand(show, clearCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := utils.GenerateToken(userID, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
