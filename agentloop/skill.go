package agentloop

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Skill is an already-selected knowledge document.
type Skill struct {
	Name        string
	Description string
	Body        string
}

// SkillSource supplies skill documents. Discovery and parsing belong to the
// implementation.
type SkillSource interface {
	Skills() []Skill
	Skill(name string) (Skill, error)
}

// StaticSkills is an in-memory SkillSource keyed by name.
type StaticSkills map[string]Skill

// Skills returns every skill sorted by name.
func (s StaticSkills) Skills() []Skill {
	out := make([]Skill, 0, len(s))
	for name, sk := range s {
		if sk.Name == "" {
			sk.Name = name
		}
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Skill returns the named skill or ErrUnknownSkill.
func (s StaticSkills) Skill(name string) (Skill, error) {
	sk, ok := s[name]
	if !ok {
		return Skill{}, fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	if sk.Name == "" {
		sk.Name = name
	}
	return sk, nil
}

// SkillToolName is the name the skill tool registers under.
const SkillToolName = "load_skill"

// SkillTool returns the load_skill tool. Skill text reaches the model as a
// tool result, never through the system prompt.
func SkillTool(source SkillSource) RegisteredTool {
	var desc strings.Builder
	desc.WriteString("Load a skill document with specialized instructions for the current task.")
	if skills := source.Skills(); len(skills) > 0 {
		desc.WriteString("\n\nAvailable skills:")
		for _, sk := range skills {
			fmt.Fprintf(&desc, "\n- %s: %s", sk.Name, sk.Description)
		}
	}
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        SkillToolName,
			Description: desc.String(),
			Parameters: []Parameter{
				{Name: "skill", Type: "string", Description: "Name of the skill to load.", Required: true},
			},
		},
		Handler: func(ctx context.Context, args Arguments, env ExecutionEnvironment) (string, error) {
			name, _ := args.String("skill")
			sk, err := source.Skill(name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("<skill-loaded name=%q>\n%s\n</skill-loaded>\n\nFollow the instructions in the skill above.", sk.Name, strings.TrimSpace(sk.Body)), nil
		},
	}
}
