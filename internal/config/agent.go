package config

import (
	"errors"
	"os"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

const (
	EnvAgentName         = "DOCKET_AGENT_NAME"
	EnvAgentProviderName = "DOCKET_AGENT_PROVIDER_NAME"
	EnvAgentBaseURL      = "DOCKET_AGENT_BASE_URL"
	EnvAgentToken        = "DOCKET_AGENT_TOKEN"
	EnvAgentDeployment   = "DOCKET_AGENT_DEPLOYMENT"
	EnvAgentAPIVersion   = "DOCKET_AGENT_API_VERSION"
	EnvAgentAuthType     = "DOCKET_AGENT_AUTH_TYPE"
	EnvAgentModelName    = "DOCKET_AGENT_MODEL_NAME"
)

// agentOptions maps environment variables onto provider option keys.
var agentOptions = map[string]string{
	EnvAgentToken:      "token",
	EnvAgentDeployment: "deployment",
	EnvAgentAPIVersion: "api_version",
	EnvAgentAuthType:   "auth_type",
}

// FinalizeAgent completes the extraction agent settings. Values from the
// config file are layered over the go-agents defaults, then DOCKET_AGENT_*
// variables override both.
func FinalizeAgent(c *gaconfig.AgentConfig) error {
	base := gaconfig.DefaultAgentConfig()
	base.Merge(c)
	*c = base

	if c.Provider == nil {
		c.Provider = &gaconfig.ProviderConfig{}
	}
	if c.Provider.Options == nil {
		c.Provider.Options = make(map[string]any)
	}
	if c.Model == nil {
		c.Model = &gaconfig.ModelConfig{}
	}

	if v := os.Getenv(EnvAgentName); v != "" {
		c.Name = v
	}
	if v := os.Getenv(EnvAgentProviderName); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv(EnvAgentBaseURL); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv(EnvAgentModelName); v != "" {
		c.Model.Name = v
	}
	for env, key := range agentOptions {
		if v := os.Getenv(env); v != "" {
			c.Provider.Options[key] = v
		}
	}

	switch {
	case c.Name == "":
		return errors.New("name required")
	case c.Provider.Name == "":
		return errors.New("provider name required")
	}
	return nil
}
