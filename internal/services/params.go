package services

// LLMParameters holds optional sampling parameters. A nil field leaves the provider's default in
// place.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
	MaxTokens        *int     `yaml:"maxTokens"`
}
