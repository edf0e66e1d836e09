package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Invocation is everything a profile needs to build one command line.
type Invocation struct {
	Prompt          string
	SystemPrompt    string
	Model           string
	SkipPermissions bool
	MCPConfigPath   string
}

// Profile describes how to drive one backend CLI.
type Profile struct {
	Name      string
	Binary    string
	BuildArgs func(inv Invocation) []string
	NewParser func() Parser
}

var profiles = map[string]Profile{
	"claude": {
		Name:      "claude",
		Binary:    "claude",
		BuildArgs: claudeArgs,
		NewParser: func() Parser { return claudeParser{} },
	},
	"gemini": {
		Name:      "gemini",
		Binary:    "gemini",
		BuildArgs: geminiArgs,
		NewParser: func() Parser { return geminiParser{} },
	},
}

func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func claudeArgs(inv Invocation) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", inv.SystemPrompt)
	}
	if inv.MCPConfigPath != "" {
		args = append(args, "--mcp-config", inv.MCPConfigPath)
	}
	// "--" keeps prompts starting with a dash from being read as flags
	return append(args, "--", inv.Prompt)
}

// geminiArgs folds the system prompt into the prompt: the gemini CLI has
// no flag for appending one.
func geminiArgs(inv Invocation) []string {
	args := []string{"--output-format", "stream-json"}
	if inv.Model != "" {
		args = append(args, "-m", inv.Model)
	}
	if inv.SkipPermissions {
		args = append(args, "--yolo")
	}

	prompt := inv.Prompt
	if inv.SystemPrompt != "" {
		prompt = inv.SystemPrompt + "\n\n---\n\n" + inv.Prompt
	}
	return append(args, "-p", prompt)
}
