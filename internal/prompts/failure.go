package prompts

// Failure keys. They match the agent's failure reasons.
const (
	FailureBackendUnreachable = "backend_unreachable"
	FailureEmptyGeneration    = "empty_generation"
	FailureBackendError       = "backend_error"
	FailureLoopExhausted      = "loop_exhausted"
	FailureTimeout            = "timeout"
	FailureCanceled           = "canceled"
)

var failureMessages = map[string]string{
	FailureBackendUnreachable: "The language model server is not reachable right now. Please check that it is running and try again.",
	FailureEmptyGeneration:    "The model did not produce an answer for this question. Please rephrase it or ask something more specific.",
	FailureBackendError:       "The language model server returned an error. Please try again in a moment.",
	FailureLoopExhausted:      "I could not work out an answer within the allowed number of steps. Try a narrower question, for example naming the project or time period.",
	FailureTimeout:            "The request took too long and was stopped. Try a narrower question.",
	FailureCanceled:           "The request was canceled.",
}

// GenericFailure is used for unknown reasons. The user never gets a
// blank answer.
const GenericFailure = "Something went wrong while answering your question. Please try again."

// FailureMessage returns the user-facing text for a failure reason.
func FailureMessage(reason string) string {
	if msg, ok := failureMessages[reason]; ok {
		return msg
	}
	return GenericFailure
}
