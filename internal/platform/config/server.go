package config

import "time"

// Server is the configuration of cmd/mafia-server.
type Server struct {
	Addr         string        `env:"MAFIA_ADDR"         envDefault:":8080"`
	DBPath       string        `env:"MAFIA_DB_PATH"      envDefault:"data/mafia.db"`
	Profile      string        `env:"MAFIA_PROFILE"      envDefault:"default"`
	PriceTable   string        `env:"MAFIA_PRICE_TABLE"`
	Provider     string        `env:"MAFIA_LLM_PROVIDER" envDefault:"heuristic"`
	Model        string        `env:"MAFIA_LLM_MODEL"`
	OpenAIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBase   string        `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	AnthropicKey string        `env:"ANTHROPIC_API_KEY"`
	CallTimeout  time.Duration `env:"MAFIA_CALL_TIMEOUT" envDefault:"60s"`
}
