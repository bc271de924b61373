// Package config loads the YAML configuration (spec §6) once at process
// start, the way github.com/sage-x-project/sage loads its node
// configuration: gopkg.in/yaml.v3 into typed structs, validated eagerly so
// bad config fails fast as a ConfigError rather than surfacing later as a
// runtime panic.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConfigError is fatal at startup (spec §7 taxonomy).
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// probeUUID is matched against every repo-match regex at load time; a
// regex that matches this clearly-not-a-repo string is almost certainly an
// accidental catch-all (e.g. ".*") and is rejected (spec §6: "Wildcard
// repo-match regexes (those that match a random UUID) are rejected at
// load").
const probeUUID = "e7f6c011-776e-48db-9d33-e55282441c3b"

// RouteConfig is one entry in a `<scm>:` route list.
type RouteConfig struct {
	RepoMatch      string               `yaml:"repo-match"`
	ServiceName    string               `yaml:"service-name"`
	CxOne          CxOneConfig          `yaml:"cxone"`
	Feedback       FeedbackConfig       `yaml:"feedback"`
	ScanAgent      ScanAgentConfig      `yaml:"scan-agent"`
	ScanConfig     ScanConfig           `yaml:"scan-config"`
	ProjectNaming  ProjectNamingConfig  `yaml:"project-naming"`
	ProjectGroups  ProjectGroupsConfig  `yaml:"project-groups"`
	Kickoff        KickoffConfig        `yaml:"kickoff"`
	Connection     ConnectionConfig     `yaml:"connection"`

	compiledRepoMatch *regexp.Regexp
}

// CompiledRepoMatch lazily compiles and caches RepoMatch.
func (r *RouteConfig) CompiledRepoMatch() (*regexp.Regexp, error) {
	if r.compiledRepoMatch != nil {
		return r.compiledRepoMatch, nil
	}
	re, err := regexp.Compile(r.RepoMatch)
	if err != nil {
		return nil, fmt.Errorf("repo-match %q: %w", r.RepoMatch, err)
	}
	r.compiledRepoMatch = re
	return re, nil
}

type CxOneConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Tenant         string            `yaml:"tenant"`
	CredentialRef  string            `yaml:"credential-ref"`
	DefaultEngines map[string]bool   `yaml:"default-engines"`
	DefaultTags    map[string]string `yaml:"default-tags"`
	RenameLegacy   bool              `yaml:"rename-legacy-projects"`
	UpdateGroups   bool              `yaml:"update-groups"`
}

type FeedbackConfig struct {
	PRDecoration  bool   `yaml:"pr-decoration"`
	PushSARIF     bool   `yaml:"push-sarif"`
	ArtifactsBase string `yaml:"artifacts-base"`
}

type ScanAgentConfig struct {
	ResolverTagKey       string   `yaml:"resolver-tag-key"`
	DefaultTag           string   `yaml:"default-tag"`
	AllowedTags          []string `yaml:"allowed-tags"`
	ScanTimeoutSeconds   int      `yaml:"scan-timeout-seconds"`
	MaxResubmitCount     int      `yaml:"max-resubmit-count"`
}

type ScanConfig struct {
	FileFilters  string   `yaml:"file-filters"`
	DefaultTags  map[string]string `yaml:"default-scan-tags"`
}

type ProjectNamingConfig struct {
	Strategy string `yaml:"strategy"`
}

type GroupRule struct {
	CloneURLRegex string   `yaml:"clone-url-regex"`
	GroupPaths    []string `yaml:"group-paths"`
}

type ProjectGroupsConfig struct {
	Rules []GroupRule `yaml:"rules"`
}

type KickoffConfig struct {
	Enabled           bool   `yaml:"enabled"`
	PublicKeyPath     string `yaml:"public-key"`
	MaxConcurrentScans int   `yaml:"max-concurrent-scans"`
}

type ConnectionConfig struct {
	AMQPURL      string `yaml:"amqp-url"`
	AMQPUser     string `yaml:"amqp-user"`
	AMQPPassword string `yaml:"amqp-password"`
	SSLVerify    bool   `yaml:"ssl-verify"`
}

// Config is the root document (spec §6 table).
type Config struct {
	ServerBaseURL  string                   `yaml:"server-base-url"`
	SecretRootPath string                   `yaml:"secret-root-path"`
	BBDC           []RouteConfig            `yaml:"bbdc"`
	ADOE           []RouteConfig            `yaml:"adoe"`
	GH             []RouteConfig            `yaml:"gh"`
	GL             []RouteConfig            `yaml:"gl"`
	Resolver       *ResolverAgentConfig     `yaml:"resolver-agent"`
}

// AllRoutes returns every route across every SCM, for validation passes
// that don't care which SCM a route belongs to.
func (c Config) AllRoutes() []RouteConfig {
	var all []RouteConfig
	all = append(all, c.BBDC...)
	all = append(all, c.ADOE...)
	all = append(all, c.GH...)
	all = append(all, c.GL...)
	return all
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("read %q", path), Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Msg: "parse yaml", Err: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto reads and YAML-unmarshals path into dst, for config documents
// other than the route-oriented Config above (e.g. ResolverAgentConfig,
// which is rooted at a serviced-tags list instead of per-SCM routes).
func LoadInto(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Msg: fmt.Sprintf("read %q", path), Err: err}
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return &ConfigError{Msg: "parse yaml", Err: err}
	}
	return nil
}

func validate(cfg *Config) error {
	if len(cfg.AllRoutes()) == 0 {
		return &ConfigError{Msg: "no service routes configured"}
	}

	probe := regexp.MustCompile(probeUUID)
	_ = probe

	for _, r := range cfg.AllRoutes() {
		re, err := r.CompiledRepoMatch()
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("route %q", r.ServiceName), Err: err}
		}
		if re.MatchString(probeUUID) {
			return &ConfigError{Msg: fmt.Sprintf("route %q: repo-match %q is a wildcard (matches a random UUID)", r.ServiceName, r.RepoMatch)}
		}
	}

	return nil
}
