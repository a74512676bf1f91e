package prompts

import (
	"fmt"
	"strings"
)

// StageInput carries the run-level fields available to every stage template.
type StageInput struct {
	Topic           string
	BrandVoice      string
	TargetPlatforms []string
	SeedLinks       []string
}

// Material is a named artifact produced by an earlier stage, included
// verbatim in the composed prompt.
type Material struct {
	Name    string
	Content string
}

// ComposeStagePrompt renders the prompt for one stage role: the role's
// template filled with run fields, followed by the accumulated materials
// from earlier stages.
func ComposeStagePrompt(role string, input StageInput, materials []Material) (string, error) {
	template, err := Get("stages.json", role)
	if err != nil {
		return "", fmt.Errorf("no prompt template for role %q: %w", role, err)
	}

	brandVoice := input.BrandVoice
	if brandVoice == "" {
		brandVoice = "neutral, clear, direct"
	}
	platforms := strings.Join(input.TargetPlatforms, ", ")
	if platforms == "" {
		platforms = "general web"
	}
	seedLinks := "- (none provided)"
	if len(input.SeedLinks) > 0 {
		seedLinks = "- " + strings.Join(input.SeedLinks, "\n- ")
	}

	prompt := Format(template, map[string]string{
		"Topic":      input.Topic,
		"BrandVoice": brandVoice,
		"Platforms":  platforms,
		"SeedLinks":  seedLinks,
	})

	if len(materials) == 0 {
		return prompt, nil
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n# Materials from earlier stages\n")
	for _, m := range materials {
		sb.WriteString(fmt.Sprintf("\n## %s\n\n%s\n", m.Name, m.Content))
	}
	return sb.String(), nil
}
