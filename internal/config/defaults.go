package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults installs the default value for every configuration key.
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("provider.default", "ollama")
	viper.SetDefault("provider.enabled", []string{"ollama"})

	viper.SetDefault("ollama.endpoint", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.1")
	viper.SetDefault("ollama.timeout", "120s")
	viper.SetDefault("ollama.keep_alive", "5m")

	viper.SetDefault("storage.driver", "sqlite")

	viper.SetDefault("common.polling_interval", 10*time.Second)
	viper.SetDefault("common.outputs_dir", "outputs")
	viper.SetDefault("common.guides_dir", "guides")

	viper.SetDefault("channels.gmail.enabled", false)
	viper.SetDefault("channels.gmail.poll_interval", 60*time.Second)
	viper.SetDefault("channels.gmail.target_agent", "system-ai")

	viper.SetDefault("channels.nostr.enabled", false)
	viper.SetDefault("channels.nostr.relays", []string{})
	viper.SetDefault("channels.nostr.target_agent", "system-ai")

	viper.SetDefault("channels.gui.enabled", true)

	viper.SetDefault("delegate.enabled", true)
	viper.SetDefault("delegate.max_stack_depth", 5)
	viper.SetDefault("delegate.default_timeout", "5m")

	viper.SetDefault("system_ai.enabled", true)
	viper.SetDefault("system_ai.model", "llama3.1")
	viper.SetDefault("system_ai.db_path", "~/.agentcore/system_ai_memory.db")

	viper.SetDefault("gateway.host", "localhost")
	viper.SetDefault("gateway.port", 18788)
}
