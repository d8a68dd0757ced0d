package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powlabs/proofwork/internal/errors"
	"github.com/powlabs/proofwork/internal/types"
)

// impactFanOut bounds concurrent per-artifact calls when the selected
// provider cannot batch.
const impactFanOut = 4

const skillSystemPrompt = `You are a precise engineering skill classifier. Given a summary of a developer's public activity, rate their proficiency per category.
Respond with a JSON object keyed by category (backend, frontend, infra, systems). Each value must be {"score": 0-100, "confidence": 0-100, "evidence": [{"artifact_id": "...", "reason": "..."}]}.
Respond with JSON only.`

const impactSystemPrompt = `You are a code contribution analyst. For each artifact provided, estimate the significance and technical complexity of the change.
Score 0 for forked repositories, for work authored by someone else, and for artifacts with no user-authored changes.
Respond with a JSON array; each element must be {"artifact_id": "...", "impact_score": 0-100, "complexity_delta": 0-100, "quality_indicators": {"has_tests": bool, "reviewed": bool, "refactored": bool, "documented": bool}}.
Respond with JSON only.`

// Gateway abstracts the remote classifier. It is constructed optimistically:
// a missing provider configuration only surfaces as a ConfigurationError at
// first use.
type Gateway struct {
	provider Provider
}

// NewGateway selects exactly one provider from the fixed priority order and
// binds its adapter for the lifetime of the gateway.
func NewGateway(cfg Config) *Gateway {
	p := selectProvider(cfg)
	if p != nil {
		slog.Info("classifier provider selected", "provider", p.Name(), "batch", p.SupportsBatch())
	}
	return &Gateway{provider: p}
}

// NewGatewayWithProvider binds an explicit provider, bypassing credential
// based selection.
func NewGatewayWithProvider(p Provider) *Gateway {
	return &Gateway{provider: p}
}

// Ready returns the deferred configuration error, if any.
func (g *Gateway) Ready() error {
	if g.provider == nil {
		return errors.NewConfigurationError("no classifier provider credentials configured", nil)
	}
	return nil
}

// ExtractSkills requests a structured skill classification over a textual
// activity summary. Transport errors and unparseable responses yield the
// all-zero extraction rather than an error: skill extraction failure must
// not block the rest of the pipeline. Only absent configuration is fatal.
func (g *Gateway) ExtractSkills(ctx context.Context, subject string, artifacts []types.Artifact, window time.Duration) (types.SkillExtraction, error) {
	if err := g.Ready(); err != nil {
		return types.ZeroSkillExtraction(), err
	}

	response, err := g.provider.Complete(ctx, skillSystemPrompt, buildSkillPrompt(subject, artifacts, window))
	if err != nil {
		slog.Warn("skill extraction request failed, using zero extraction",
			"provider", g.provider.Name(), "error", err)
		return types.ZeroSkillExtraction(), nil
	}

	extraction, err := parseSkillExtraction(response)
	if err != nil {
		slog.Warn("skill extraction response unparseable, using zero extraction",
			"provider", g.provider.Name(), "error", err)
		return types.ZeroSkillExtraction(), nil
	}

	return extraction, nil
}

// AnalyzeImpactBatch scores every commit/PR artifact. Batch-capable
// providers get all artifacts in one call; others get one call per artifact
// up to the fan-out limit. Individual failures receive neutral defaults;
// the batch itself never aborts for one artifact.
func (g *Gateway) AnalyzeImpactBatch(ctx context.Context, artifacts []types.Artifact) (map[string]types.ContributionImpact, error) {
	if err := g.Ready(); err != nil {
		return nil, err
	}

	relevant := relevantArtifacts(artifacts)
	if len(relevant) == 0 {
		return map[string]types.ContributionImpact{}, nil
	}

	if g.provider.SupportsBatch() {
		return g.analyzeBatched(ctx, relevant), nil
	}
	return g.analyzePerArtifact(ctx, relevant), nil
}

func (g *Gateway) analyzeBatched(ctx context.Context, artifacts []types.Artifact) map[string]types.ContributionImpact {
	response, err := g.provider.Complete(ctx, impactSystemPrompt, buildImpactPrompt(artifacts))
	if err != nil {
		slog.Warn("batched impact request failed, using neutral defaults",
			"provider", g.provider.Name(), "artifacts", len(artifacts), "error", err)
		return neutralImpacts(artifacts)
	}

	parsed, err := parseImpactBatch(response)
	if err != nil {
		slog.Warn("batched impact response unparseable, using neutral defaults",
			"provider", g.provider.Name(), "error", err)
		return neutralImpacts(artifacts)
	}

	// Artifacts the model skipped still get neutral defaults.
	out := make(map[string]types.ContributionImpact, len(artifacts))
	for _, a := range artifacts {
		if impact, ok := parsed[a.ID]; ok {
			out[a.ID] = impact
		} else {
			out[a.ID] = types.NeutralImpact()
		}
	}
	return out
}

func (g *Gateway) analyzePerArtifact(ctx context.Context, artifacts []types.Artifact) map[string]types.ContributionImpact {
	out := make(map[string]types.ContributionImpact, len(artifacts))
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(impactFanOut)

	for _, a := range artifacts {
		eg.Go(func() error {
			impact := types.NeutralImpact()

			response, err := g.provider.Complete(gctx, impactSystemPrompt, buildImpactPrompt([]types.Artifact{a}))
			if err != nil {
				slog.Warn("impact request failed, using neutral defaults", "artifact", a.Key(), "error", err)
			} else if parsed, perr := parseImpactSingle(response); perr != nil {
				slog.Warn("impact response unparseable, using neutral defaults", "artifact", a.Key(), "error", perr)
			} else {
				impact = parsed
			}

			mu.Lock()
			out[a.ID] = impact
			mu.Unlock()
			return nil
		})
	}

	_ = eg.Wait()
	return out
}

// buildSkillPrompt summarizes the artifact set: counts by kind, the
// language set, and the time window.
func buildSkillPrompt(subject string, artifacts []types.Artifact, window time.Duration) string {
	var repos, commits, pulls int
	langSet := map[string]bool{}
	for _, a := range artifacts {
		switch a.Kind {
		case types.KindRepo:
			repos++
			if lang, ok := a.Payload["language"].(string); ok && lang != "" {
				langSet[lang] = true
			}
		case types.KindCommit:
			commits++
		case types.KindPullRequest:
			pulls++
		}
	}

	langs := make([]string, 0, len(langSet))
	for l := range langSet {
		langs = append(langs, l)
	}
	sort.Strings(langs)

	var b strings.Builder
	fmt.Fprintf(&b, "Developer: %s\n", subject)
	fmt.Fprintf(&b, "Window: last %d days\n", int(window.Hours()/24))
	fmt.Fprintf(&b, "Repositories: %d\nCommits: %d\nPull requests: %d\n", repos, commits, pulls)
	fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))

	b.WriteString("Sample artifacts:\n")
	for i, a := range artifacts {
		if i >= 25 {
			break
		}
		fmt.Fprintf(&b, "- [%s] %s %s\n", a.Kind, a.ID, artifactTitle(a))
	}

	return b.String()
}

// buildImpactPrompt serializes artifacts as a compact JSON array for the
// model to score.
func buildImpactPrompt(artifacts []types.Artifact) string {
	items := make([]map[string]interface{}, 0, len(artifacts))
	for _, a := range artifacts {
		item := map[string]interface{}{
			"artifact_id": a.ID,
			"kind":        a.Kind,
			"summary":     artifactTitle(a),
		}
		if a.Repository != nil {
			item["repo"] = a.Repository.FullName()
		}
		if merged, ok := a.Payload["merged"].(bool); ok {
			item["merged"] = merged
		}
		if total, ok := a.Payload["total_changes"].(int); ok {
			item["total_changes"] = total
		}
		items = append(items, item)
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return "Artifacts:\n" + string(encoded)
}

func artifactTitle(a types.Artifact) string {
	for _, key := range []string{"message", "title", "full_name"} {
		if v, ok := a.Payload[key].(string); ok && v != "" {
			if idx := strings.IndexByte(v, '\n'); idx > 0 {
				v = v[:idx]
			}
			if len(v) > 120 {
				v = v[:120]
			}
			return v
		}
	}
	return ""
}

func relevantArtifacts(artifacts []types.Artifact) []types.Artifact {
	out := make([]types.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a.Kind == types.KindCommit || a.Kind == types.KindPullRequest {
			out = append(out, a)
		}
	}
	return out
}

func neutralImpacts(artifacts []types.Artifact) map[string]types.ContributionImpact {
	out := make(map[string]types.ContributionImpact, len(artifacts))
	for _, a := range artifacts {
		out[a.ID] = types.NeutralImpact()
	}
	return out
}
