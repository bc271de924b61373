package config

// ResolverAgentConfig is the root document loaded by the resolver-agent
// process, distinct from the orchestrator's route-oriented Config (spec
// §6: "a resolver agent loads its own config rooted at a serviced-tags
// list, not the per-SCM route blocks").
type ResolverAgentConfig struct {
	SecretRootPath string                       `yaml:"secret-root-path"`
	ServicedTags   map[string]ServicedTagConfig `yaml:"serviced-tags"`
}

// ServicedTagConfig is one `<tag>:` block under `resolver-agent.serviced-tags`.
type ServicedTagConfig struct {
	PublicKeyPath string            `yaml:"public-key"`
	Connection    ConnectionConfig  `yaml:"connection"`
	Runner        ResolverRunner    `yaml:"runner"`
	RunnerOpts    map[string]string `yaml:"runner-opts"`
}

// ResolverRunner names which resolver-agent runner variant services this
// tag (spec 4.F): shell, container, two-stage or no-op.
type ResolverRunner string

const (
	RunnerShell     ResolverRunner = "shell"
	RunnerContainer ResolverRunner = "container"
	RunnerTwoStage  ResolverRunner = "two-stage"
	RunnerNoOp      ResolverRunner = "noop"
)
