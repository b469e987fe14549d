package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/kbaudit/internal/api"
	"github.com/ShayCichocki/kbaudit/internal/config"
	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
)

// createReviewer builds the semantic reviewer named by the config. A
// non-empty reviewFile overrides the provider with a file reviewer.
func createReviewer(cfg *config.Config, reviewFile string) (orchestrator.Reviewer, error) {
	if reviewFile != "" {
		return loadReviewFile(reviewFile)
	}

	if err := config.CheckReviewer(&cfg.Reviewer); err != nil {
		return nil, err
	}

	switch cfg.Reviewer.Provider {
	case config.ProviderFile:
		return loadReviewFile(cfg.Reviewer.File)

	case config.ProviderAnthropic:
		clientCfg := api.ClientConfig{
			Model:         anthropic.Model(cfg.Reviewer.Model),
			UseAWSBedrock: config.GetAPIKeySource(cfg) == config.KeySourceBedrock,
			AWSRegion:     cfg.Reviewer.AWSRegion,
			AWSProfile:    cfg.Reviewer.AWSProfile,
		}
		if !clientCfg.UseAWSBedrock {
			key, err := config.GetAPIKey(cfg)
			if err != nil {
				return nil, err
			}
			clientCfg.APIKey = key
		}
		client, err := api.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("create API client: %w", err)
		}
		return api.NewModelReviewer(client), nil
	}
	return orchestrator.NopReviewer{}, nil
}

func loadReviewFile(path string) (orchestrator.Reviewer, error) {
	r, err := api.LoadReviewFile(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// loadResolutions reads hybrid resolutions from a JSON file holding an
// array of {findingId, chosenResolutionText, entry?}.
func loadResolutions(path string) ([]orchestrator.Resolution, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resolutions: %w", err)
	}
	var out []orchestrator.Resolution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse resolutions %s: %w", path, err)
	}
	for i, r := range out {
		if r.FindingID == "" {
			return nil, fmt.Errorf("resolutions %s: item %d has no findingId", path, i)
		}
	}
	return out, nil
}
