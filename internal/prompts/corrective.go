package prompts

import "fmt"

// parseFailureTemplate is sent back as an observation when the model's
// reply holds neither a tool call nor a final answer.
// Format verb: (1) what was wrong with the reply.
const parseFailureTemplate = `Your reply could not be used: %s.
Reply with exactly one JSON object, either
{"thought": "...", "action": "<tool name>", "action_input": "<tool input>"}
or
{"thought": "...", "final_answer": "<answer for the user>"}`

// ParseFailure returns the corrective observation for an unusable reply.
func ParseFailure(detail string) string {
	return fmt.Sprintf(parseFailureTemplate, detail)
}

// Observation wraps a tool result for the next model turn.
func Observation(result string) string {
	return "Observation: " + result
}

// ToolError is the observation for a tool call the registry refused,
// such as an unknown tool or missing input.
func ToolError(err error) string {
	return fmt.Sprintf("Observation: Error: %v. Check the tool name and input and try again.", err)
}
