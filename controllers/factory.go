package controllers

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/cppla/goaltrack/config"
	"github.com/cppla/goaltrack/goals"
)

// ClientFactory builds a goal client acting for one user with that user's bearer token.
type ClientFactory func(userID, bearer, requestID string) *goals.Client

// NewClientFactory shares one transport, cache and clock across all per-request clients.
func NewClientFactory(cfg config.AppConfig, cache *goals.Cache, base *http.Client, log *zap.SugaredLogger, now func() time.Time) ClientFactory {
	read, write, del := cfg.GoalTimeouts()
	loc := cfg.Location()
	return func(userID, bearer, requestID string) *goals.Client {
		var tokens oauth2.TokenSource
		if bearer != "" {
			tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"})
		}
		return goals.NewClient(goals.Options{
			BaseURL:    cfg.GoalAPIBaseURL,
			UserID:     userID,
			Tokens:     tokens,
			HTTPClient: base,
			Cache:      cache,
			Timeouts:   goals.Timeouts{Read: read, Write: write, Delete: del},
			Logger:     log,
			Now:        now,
			Location:   loc,
			RequestID:  requestID,
		})
	}
}
