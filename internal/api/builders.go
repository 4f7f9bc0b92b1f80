package api

import (
	"errors"

	"github.com/JustinTDCT/MetaFix/internal/plex"
	"github.com/JustinTDCT/MetaFix/internal/providers"
)

var errPlexNotConfigured = errors.New("plex connection not configured")

// plexClient builds a client from the saved connection settings.
func (s *Server) plexClient() (*plex.Client, error) {
	serverURL, token, err := s.configRepo.PlexConnection()
	if err != nil {
		return nil, err
	}
	if serverURL == "" || token == "" {
		return nil, errPlexNotConfigured
	}
	return plex.NewClient(serverURL, token), nil
}

// configuredProviders builds adapters for every provider with a saved key.
// The Plex provider rides along when a connection exists.
func (s *Server) configuredProviders() ([]providers.Provider, error) {
	client, err := s.plexClient()
	if err != nil {
		client = nil
	}
	return providers.Configured(s.configRepo, client)
}

func (s *Server) aggregator() (*providers.Aggregator, error) {
	client, err := s.plexClient()
	if err != nil {
		client = nil
	}
	return providers.BuildAggregator(s.configRepo, client)
}
