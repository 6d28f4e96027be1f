package chat

import "fmt"

// StatusThinking is shown whenever a model request starts.
const StatusThinking = "Thinking"

var toolStatuses = map[string]string{
	"create_calendar_event":  "Scheduling your meeting...",
	"list_calendar_events":   "Checking your calendar...",
	"web_search":             "Searching the web...",
	"upsert_memory":          "Saving that for later...",
	"search_personal_memory": "Recalling what I know...",
	"search_documents":       "Searching your documents...",
	"current_time":           "Checking the time...",
	"calculator":             "Crunching the numbers...",
}

// StatusForTool returns the progress phrase for a tool invocation. Tools
// without a curated phrase get a generic one so the client never sees a raw
// identifier alone.
func StatusForTool(tool string) string {
	if phrase, ok := toolStatuses[tool]; ok {
		return phrase
	}
	return fmt.Sprintf("Using %s...", tool)
}
