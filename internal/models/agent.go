package models

// Agent roles. The roster is fixed at these four by default but the
// matcher works with any number of profiles.
const (
	RoleBackend   = "backend"
	RoleContracts = "contracts"
	RoleFrontend  = "frontend"
	RoleResearch  = "research"
)

// AgentProfile is a configuration-defined identity the engine bids for.
type AgentProfile struct {
	Role        string   `json:"role" yaml:"role"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Key         string   `json:"-" yaml:"-"`
	KeyEnv      string   `json:"-" yaml:"key_env"`
	Skills      []string `json:"skills" yaml:"skills"`
	Stack       []string `json:"stack" yaml:"stack"`
	Categories  []string `json:"categories" yaml:"categories"`
}

// MatchResult is the ephemeral outcome of scoring one task against the roster.
type MatchResult struct {
	Agent    *AgentProfile `json:"-"`
	Role     string        `json:"agent"`
	Score    int           `json:"score"`
	Reasons  []string      `json:"reasons"`
	Category string        `json:"category"`
}
