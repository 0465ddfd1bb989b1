package main

import (
	"fmt"
	"strings"

	"mycloud/internal/api"
	"mycloud/internal/config"
)

// newAPIClient returns a client for the configured server. The bearer token
// comes from MYCLOUD_TOKEN.
func newAPIClient(cfg *config.Config) (*api.Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	return api.NewClient(cfg.APIURL), nil
}

func withClient(cfg *config.Config, fn func(*api.Client) error) error {
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	return fn(client)
}
