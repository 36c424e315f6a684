package trajcontext

import "webagent/internal/types"

// Inject returns a copy of the payload with the context block prepended to
// its task description. An empty block returns the payload unchanged, which
// makes disabled-feature and store-unavailable paths an identity function.
// All other payload fields pass through untouched.
func Inject(payload types.PromptPayload, block string) types.PromptPayload {
	if block == "" {
		return payload
	}
	out := payload
	if out.TaskDescription == "" {
		out.TaskDescription = block
	} else {
		out.TaskDescription = block + "\n\n" + out.TaskDescription
	}
	return out
}
