// Package prompts contains all LLM prompt templates and user-facing
// fallback texts used by the query agent.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. Deployment-specific wording (role personas,
// schema guides, extra instructions) lives in config.yaml and is passed in;
// this package holds the fixed protocol the agent loop depends on.
//
// Convention: each prompt category gets its own file (system.go,
// corrective.go, failure.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
