package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/schemas"
	"github.com/jonathan/content-factory/internal/types"
)

// finalSectionPattern marks where an audit response switches from the fact
// audit to the final pack.
var finalSectionPattern = regexp.MustCompile(`(?im)^#+\s*final`)

// persistStageArtifacts turns a stage's output into run artifacts. Every
// enabled stage persists at least one artifact even when the response is
// empty, so downstream stages and run consumers always find their inputs.
func (s *Service) persistStageArtifacts(ctx context.Context, run *types.Run, stage types.StageDef, out *StageOutput) error {
	names := stage.DefaultArtifactNames

	switch stage.StageID {
	case StageDiscovery:
		evidence := s.collectEvidence(ctx, run, out.ResponseText)
		run.ReplaceEvidence(evidence)
		encoded, err := json.MarshalIndent(evidence, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode evidence: %w", err)
		}
		s.writeArtifact(run, stage, names[0], string(encoded))
		s.writeArtifact(run, stage, names[1], out.ResponseText)

	case StageSynthesis:
		claims := llm.ExtractJSONFromText(out.ResponseText)
		if claims == nil {
			claims = []any{}
		}
		if err := schemas.ValidateClaims(claims); err != nil {
			// Advisory: a malformed claims table is kept as-is for the audit
			// stage to flag, not treated as a stage failure.
			run.AppendLog("warn", fmt.Sprintf("claims table failed validation: %v", err))
		}
		encoded, err := json.MarshalIndent(claims, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode claims table: %w", err)
		}
		s.writeArtifact(run, stage, names[0], out.ResponseText)
		s.writeArtifact(run, stage, names[1], string(encoded))

	case StageAudit:
		audit, pack := splitAuditResponse(out.ResponseText)
		s.writeArtifact(run, stage, names[0], audit)
		s.writeArtifact(run, stage, names[1], pack)

	default:
		s.writeArtifact(run, stage, names[0], out.ResponseText)
	}

	return nil
}

// writeArtifact appends one artifact to the run, records its title on the
// stage state, and broadcasts artifact_written.
func (s *Service) writeArtifact(run *types.Run, stage types.StageDef, title, content string) {
	now := time.Now().UTC()
	artifact := types.Artifact{
		ID:        uuid.NewString(),
		StageID:   stage.StageID,
		Type:      artifactMIMEType(title),
		Title:     title,
		URI:       fmt.Sprintf("run://%s/%s", run.ID, title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	run.AppendArtifact(artifact)
	if st := run.Stage(stage.StageID); st != nil {
		st.Artifacts = append(st.Artifacts, title)
	}
	s.events.Publish(run.ID, run.PipelineID, "artifact_written", map[string]any{
		"stageId":    stage.StageID,
		"artifactId": artifact.ID,
		"title":      title,
		"uri":        artifact.URI,
	})
}

// artifactMIMEType maps an artifact title to its content type.
func artifactMIMEType(title string) string {
	if strings.HasSuffix(title, ".json") {
		return "application/json"
	}
	return "text/markdown"
}

// collectEvidence extracts the discovery stage's evidence list from its
// response, falling back to a direct web search when the response carries
// no valid evidence JSON.
func (s *Service) collectEvidence(ctx context.Context, run *types.Run, responseText string) []types.Evidence {
	parsed := llm.ExtractJSONFromText(responseText)
	if parsed != nil {
		if err := schemas.ValidateEvidence(parsed); err != nil {
			run.AppendLog("warn", fmt.Sprintf("discovery evidence failed validation: %v", err))
			parsed = nil
		}
	}

	if parsed != nil {
		if evidence := evidenceFromJSON(parsed); len(evidence) > 0 {
			return evidence
		}
	}

	return s.evidenceFromSearch(ctx, run)
}

// evidenceFromJSON converts a validated evidence array into typed entries,
// dropping anything without a usable URL.
func evidenceFromJSON(value any) []types.Evidence {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	var out []types.Evidence
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url := firstString(m, "url", "link")
		if url == "" {
			continue
		}
		out = append(out, types.Evidence{
			SourceID:    uuid.NewString(),
			Title:       firstString(m, "title", "name"),
			URL:         url,
			Snippet:     firstString(m, "snippet", "summary", "description"),
			RetrievedAt: now,
		})
	}
	return out
}

// evidenceFromSearch builds evidence directly from a topic search, with a
// best-effort readable-text snapshot per hit. Any failure leaves the run
// with an empty evidence list and a logged warning.
func (s *Service) evidenceFromSearch(ctx context.Context, run *types.Run) []types.Evidence {
	if s.search == nil {
		run.AppendLog("warn", "no evidence in discovery response and no search backend configured")
		return []types.Evidence{}
	}

	results, err := s.search.Search(ctx, run.Topic)
	if err != nil {
		run.AppendLog("warn", fmt.Sprintf("evidence fallback search failed: %v", err))
		return []types.Evidence{}
	}

	now := time.Now().UTC()
	evidence := make([]types.Evidence, 0, len(results))
	for _, r := range results {
		entry := types.Evidence{
			SourceID:    uuid.NewString(),
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Snippet,
			RetrievedAt: now,
		}
		if s.snapshots != nil {
			snapshot, err := s.snapshots.Fetch(ctx, r.URL)
			if err != nil {
				log.Printf("[pipeline] snapshot of %s failed: %v", r.URL, err)
			} else {
				entry.Snapshot = snapshot
			}
		}
		evidence = append(evidence, entry)
	}
	return evidence
}

// splitAuditResponse divides an audit response into the fact audit and the
// final pack at the first "Final ..." heading. Responses without such a
// heading fill both artifacts whole.
func splitAuditResponse(text string) (audit, pack string) {
	loc := finalSectionPattern.FindStringIndex(text)
	if loc == nil {
		return text, text
	}
	return strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[0]:])
}
