package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hitsz-openauto/hoa-pr/internal/catalog"
	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/moderation"
	"github.com/hitsz-openauto/hoa-pr/internal/prserver"
	"github.com/hitsz-openauto/hoa-pr/internal/session"
	"github.com/hitsz-openauto/hoa-pr/internal/store"
	"github.com/hitsz-openauto/hoa-pr/internal/submit"
)

// deps bundles the collaborators a conversation needs.
type deps struct {
	store    store.Store
	resolver *catalog.Resolver
	locator  *locator.Locator
	engine   *session.Engine
	budget   int
}

// buildDeps wires the engine from configuration. With prserver.base_url set
// documents are fetched from and submitted to the PR service; otherwise
// they are read from courses_dir and PRs are kept in the local ledger.
func buildDeps(ctx context.Context) (*deps, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	var (
		fetcher session.Fetcher
		pr      submit.PRService
	)
	if base := viper.GetString("prserver.base_url"); base != "" {
		client := prserver.NewClient(base, viper.GetString("prserver.api_key"), viper.GetDuration("prserver.timeout"))
		fetcher, pr = client, client
		ui.VerboseLog("PR service: %s", base)
	} else {
		fetcher = catalog.DirSource{Dir: viper.GetString("courses_dir")}
		pr = prserver.NewLedger(s)
		ui.VerboseLog("PR service: local ledger, courses from %q", viper.GetString("courses_dir"))
	}

	mod, err := buildModerator(ctx)
	if err != nil {
		return nil, err
	}

	loc := newLocator()
	budget := viper.GetInt("render.segment_budget")
	pipeline := &submit.Pipeline{
		Moderator:         mod,
		PR:                pr,
		Recorder:          s,
		ModerationTimeout: viper.GetDuration("moderation.timeout"),
		SubmitTimeout:     viper.GetDuration("prserver.timeout"),
	}
	resolver := catalog.NewResolver(s)
	engine := session.NewEngine(resolver, fetcher, pipeline, session.Config{
		Budget:       budget,
		TTL:          viper.GetDuration("session.ttl"),
		FetchTimeout: viper.GetDuration("prserver.timeout"),
		AllowedUsers: allowedUsers(),
		Locator:      loc,
	})

	return &deps{store: s, resolver: resolver, locator: loc, engine: engine, budget: budget}, nil
}

// buildModerator chains the local policy with the model reviewer. A missing
// API key leaves the chain failing closed; provider "none" skips the model.
func buildModerator(ctx context.Context) (moderation.Moderator, error) {
	policy := ""
	if path := viper.GetString("moderation.policy_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		policy = string(data)
	}
	pol, err := moderation.NewPolicyReviewer(ctx, policy)
	if err != nil {
		return nil, err
	}

	switch provider := strings.ToLower(viper.GetString("moderation.provider")); provider {
	case "none":
		slog.Warn("model moderation disabled, only the local policy reviews submissions")
		return moderation.Chain{pol}, nil
	case "anthropic", "":
		key := viper.GetString("anthropic.api_key")
		if key == "" {
			slog.Warn("anthropic.api_key not set, submissions will be denied")
			return moderation.Chain{pol, moderation.Unconfigured{}}, nil
		}
		return moderation.Chain{pol, moderation.NewLLMReviewer(key, viper.GetString("anthropic.model"))}, nil
	default:
		return nil, fmt.Errorf("unknown moderation.provider %q (want anthropic or none)", provider)
	}
}

func newLocator() *locator.Locator {
	return &locator.Locator{
		Threshold:     viper.GetFloat64("locator.threshold"),
		MaxCandidates: viper.GetInt("locator.max_candidates"),
	}
}

// allowedUsers accepts a YAML list or a comma separated env value.
func allowedUsers() []string {
	var out []string
	for _, u := range viper.GetStringSlice("allowed_users") {
		for _, part := range strings.Split(u, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
