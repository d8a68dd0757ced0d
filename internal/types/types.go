package types

import "time"

// ArtifactKind identifies the kind of activity an Artifact records.
type ArtifactKind string

const (
	KindRepo        ArtifactKind = "repo"
	KindCommit      ArtifactKind = "commit"
	KindPullRequest ArtifactKind = "pull_request"
)

// RepoRef identifies the repository an artifact belongs to.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r RepoRef) FullName() string {
	if r.Owner == "" && r.Name == "" {
		return ""
	}
	return r.Owner + "/" + r.Name
}

// Artifact is a canonical record of one unit of developer activity.
// Identity is (Kind, ID). Artifacts are immutable once created; a subject's
// full set is replaced, never merged, on each ingestion run.
type Artifact struct {
	Kind       ArtifactKind           `json:"kind"`
	ID         string                 `json:"id"`
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  time.Time              `json:"timestamp"`
	Repository *RepoRef               `json:"repository,omitempty"`
}

// Key returns the identity of the artifact.
func (a Artifact) Key() string {
	return string(a.Kind) + ":" + a.ID
}

// SkillCategories is the fixed set of competency areas scored independently.
var SkillCategories = []string{"backend", "frontend", "infra", "systems"}

// SkillEvidence ties a category score back to a concrete artifact.
type SkillEvidence struct {
	ArtifactID string `json:"artifact_id"`
	Reason     string `json:"reason"`
}

// CategorySkill is the classifier's verdict for one skill category.
type CategorySkill struct {
	Score      float64         `json:"score"`      // 0-100
	Confidence float64         `json:"confidence"` // 0-100
	Evidence   []SkillEvidence `json:"evidence"`
}

// SkillExtraction holds one CategorySkill per fixed skill category.
// Produced once per scoring run; persisted only via the profile.
type SkillExtraction struct {
	Categories map[string]CategorySkill `json:"categories"`
}

// ZeroSkillExtraction returns the all-zero extraction used when the
// classifier fails or is unavailable.
func ZeroSkillExtraction() SkillExtraction {
	cats := make(map[string]CategorySkill, len(SkillCategories))
	for _, c := range SkillCategories {
		cats[c] = CategorySkill{Evidence: []SkillEvidence{}}
	}
	return SkillExtraction{Categories: cats}
}

// QualityIndicators are per-artifact boolean quality signals.
type QualityIndicators struct {
	HasTests   bool `json:"has_tests"`
	Reviewed   bool `json:"reviewed"`
	Refactored bool `json:"refactored"`
	Documented bool `json:"documented"`
}

// ContributionImpact is the classifier's per-artifact estimate. Scoped to a
// single scoring run and discarded afterwards.
type ContributionImpact struct {
	ImpactScore       float64           `json:"impact_score"`     // 0-100
	ComplexityDelta   float64           `json:"complexity_delta"` // 0-100
	QualityIndicators QualityIndicators `json:"quality_indicators"`
}

// NeutralImpact is substituted when the classifier response for an artifact
// cannot be parsed.
func NeutralImpact() ContributionImpact {
	return ContributionImpact{ImpactScore: 50, ComplexityDelta: 50}
}

// SkillScore is one scored category inside a PoWProfile.
type SkillScore struct {
	SkillName     string  `json:"skill_name"`
	Score         int     `json:"score"`
	Percentile    int     `json:"percentile"`
	Confidence    float64 `json:"confidence"`
	ArtifactCount int     `json:"artifact_count"`
}

// ArtifactSummary counts the validated artifact set backing a profile.
type ArtifactSummary struct {
	Repos        int `json:"repos"`
	Commits      int `json:"commits"`
	PullRequests int `json:"pull_requests"`
	MergedPRs    int `json:"merged_prs"`
}

// PoWProfile is the pipeline's sole durable output.
type PoWProfile struct {
	Subject         string          `json:"subject"`
	Skills          []SkillScore    `json:"skills"`
	OverallIndex    int             `json:"overall_index"`
	ArtifactSummary ArtifactSummary `json:"artifact_summary"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// ProgressState is ephemeral per-subject pipeline-stage state for polling
// consumers. Self-expires after a fixed TTL independent of completion.
type ProgressState struct {
	Subject   string    `json:"subject"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Percent   int       `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepoLanguages maps language name to bytes of code, as reported upstream.
type RepoLanguages map[string]int64

// ContributorStats summarizes the subject's contribution to one repo.
type ContributorStats struct {
	Commits   int `json:"commits"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// FastIngestedData is the low-latency ingestion result: profile stats plus
// metadata for the top repos only. Events, not full history, are the
// commit/PR source here.
type FastIngestedData struct {
	Subject     string                      `json:"subject"`
	Profile     map[string]interface{}      `json:"profile"`
	Repos       []map[string]interface{}    `json:"repos"`
	Events      []map[string]interface{}    `json:"events"`
	Languages   map[string]RepoLanguages    `json:"languages"`
	Stats       map[string]ContributorStats `json:"stats"`
	FetchedAt   time.Time                   `json:"fetched_at"`
	TopRepoList []string                    `json:"top_repo_list"`
}

// RepoActivity groups one repo's raw payload with the subject's qualifying
// commits and pull requests inside it.
type RepoActivity struct {
	Repo    map[string]interface{}   `json:"repo"`
	Commits []map[string]interface{} `json:"commits"`
	Pulls   []map[string]interface{} `json:"pulls"`
}

// IngestedArtifacts is the full-ingestion result prior to normalization.
type IngestedArtifacts struct {
	Subject   string         `json:"subject"`
	Repos     []RepoActivity `json:"repos"`
	FetchedAt time.Time      `json:"fetched_at"`
}
