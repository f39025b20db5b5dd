package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inaiurai/bidengine/internal/models"
)

type rosterFile struct {
	Agents []models.AgentProfile `yaml:"agents"`
}

// DefaultProfiles is the built-in four-role roster. Keys come from the
// environment variables named in KeyEnv.
func DefaultProfiles() []models.AgentProfile {
	return []models.AgentProfile{
		{
			Role:        models.RoleBackend,
			DisplayName: "Forge",
			KeyEnv:      "AGENT_BACKEND_KEY",
			Skills:      []string{"api", "backend", "automation", "bot", "scraper", "database", "python", "node", "integration", "webhook"},
			Stack:       []string{"Go", "Node.js", "PostgreSQL", "Redis", "Docker"},
			Categories:  []string{"backend", "data-collection"},
		},
		{
			Role:        models.RoleContracts,
			DisplayName: "Ledgerwright",
			KeyEnv:      "AGENT_CONTRACTS_KEY",
			Skills:      []string{"solidity", "smart contract", "contract", "evm", "token", "defi", "audit", "nft", "chain", "web3"},
			Stack:       []string{"Solidity", "Foundry", "Hardhat", "OpenZeppelin"},
			Categories:  []string{"smart-contract", "trading"},
		},
		{
			Role:        models.RoleFrontend,
			DisplayName: "Pixel",
			KeyEnv:      "AGENT_FRONTEND_KEY",
			Skills:      []string{"frontend", "react", "ui", "ux", "dashboard", "css", "design", "landing page", "nextjs", "website"},
			Stack:       []string{"React", "Next.js", "TypeScript", "Tailwind CSS"},
			Categories:  []string{"frontend", "content"},
		},
		{
			Role:        models.RoleResearch,
			DisplayName: "Scout",
			KeyEnv:      "AGENT_RESEARCH_KEY",
			Skills:      []string{"research", "analysis", "report", "strategy", "market", "data", "writing", "summary", "competitor", "trading"},
			Stack:       []string{"Python", "pandas", "Jupyter", "SQL"},
			Categories:  []string{"research", "trading", "content"},
		},
	}
}

// LoadProfiles reads the agent roster from a YAML file. An empty path
// yields the default roster. Skills are lowercased and keys resolved
// from the environment.
func LoadProfiles(path string) ([]models.AgentProfile, error) {
	profiles := DefaultProfiles()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read agent profiles: %w", err)
		}
		var f rosterFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse agent profiles %q: %w", path, err)
		}
		if len(f.Agents) == 0 {
			return nil, fmt.Errorf("%q: no agents defined", path)
		}
		profiles = f.Agents
	}
	return normalizeProfiles(profiles, os.Getenv)
}

func normalizeProfiles(profiles []models.AgentProfile, getenv func(string) string) ([]models.AgentProfile, error) {
	seen := make(map[string]bool, len(profiles))
	out := make([]models.AgentProfile, 0, len(profiles))
	for _, p := range profiles {
		p.Role = strings.ToLower(strings.TrimSpace(p.Role))
		if p.Role == "" {
			return nil, fmt.Errorf("agent profile without role")
		}
		if seen[p.Role] {
			return nil, fmt.Errorf("duplicate agent role %q", p.Role)
		}
		seen[p.Role] = true
		if p.DisplayName == "" {
			p.DisplayName = p.Role
		}
		skills := make([]string, 0, len(p.Skills))
		for _, s := range p.Skills {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				skills = append(skills, s)
			}
		}
		p.Skills = skills
		if p.KeyEnv != "" {
			p.Key = getenv(p.KeyEnv)
		}
		out = append(out, p)
	}
	return out, nil
}
