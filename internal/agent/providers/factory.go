package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/aof-dev/aof/internal/agent"
)

// New builds a provider by name. An empty name infers the provider from the
// model string. API keys come from the environment.
func New(name, model string) (agent.Provider, error) {
	if name == "" {
		name = inferProvider(model)
	}
	switch name {
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			Model:   model,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func inferProvider(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}
