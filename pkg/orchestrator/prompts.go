package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/todoencadena/agentfabric/pkg/store"
)

// gatePrompt asks whether the message is worth a full reasoning run. The
// model answers with a single word.
func gatePrompt(agentName string, task Task, recent []store.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an agent in a shared chat channel.\n\n", agentName)

	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for i := len(recent) - 1; i >= 0; i-- {
			fmt.Fprintf(&b, "- %s\n", recent[i].Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "New message from %s:\n%s\n\n", displayAuthor(task), task.Content)
	b.WriteString("Should you respond to this message? Answer with exactly one word:\n")
	b.WriteString("RESPOND if the message warrants a reply from you.\n")
	b.WriteString("IGNORE if it does not concern you or needs no reply.\n")
	b.WriteString("STOP if you are being asked to stay out of the conversation.\n")
	return b.String()
}

// decidePrompt asks the model for the next loop step: invoke one named
// capability or finish.
func decidePrompt(agentName string, task Task, trace []ActionTraceEntry, available []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, deciding your next step while handling a message.\n\n", agentName)
	fmt.Fprintf(&b, "Message from %s:\n%s\n\n", displayAuthor(task), task.Content)

	if len(trace) > 0 {
		b.WriteString("Steps taken so far:\n")
		for i, entry := range trace {
			outcome := entry.ResultText
			if !entry.Success {
				outcome = "FAILED: " + entry.ErrorText
			}
			fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, entry.ActionName, outcome)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Available actions: %s\n\n", strings.Join(available, ", "))
	b.WriteString("Reply with JSON only, in one of these two shapes:\n")
	b.WriteString(`{"nextStepType":"action","actionName":"<one of the available actions>","thought":"<why>"}` + "\n")
	b.WriteString(`{"nextStepType":"finish","thought":"<what to tell the user>"}` + "\n")
	return b.String()
}

// summaryPrompt asks for the final user-facing message. An empty answer
// means the run ends silently.
func summaryPrompt(agentName string, task Task, trace []ActionTraceEntry, lastThought string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Compose your reply to this message:\n%s\n\n", agentName, task.Content)

	if len(trace) > 0 {
		b.WriteString("You took these steps:\n")
		for _, entry := range trace {
			outcome := entry.ResultText
			if !entry.Success {
				outcome = "FAILED: " + entry.ErrorText
			}
			fmt.Fprintf(&b, "- %s: %s\n", entry.ActionName, outcome)
		}
		b.WriteString("\n")
	}
	if lastThought != "" {
		fmt.Fprintf(&b, "Your closing thought: %s\n\n", lastThought)
	}

	b.WriteString("Write the reply text only, with no preamble. ")
	b.WriteString("If no reply is appropriate, write nothing.")
	return b.String()
}

func displayAuthor(task Task) string {
	if task.AuthorName != "" {
		return task.AuthorName
	}
	return "a participant"
}

// parseDecision extracts the structured step decision from model output.
// Models wrap JSON in prose often enough that we cut from the first brace
// to the last before unmarshalling.
func parseDecision(text string) (*stepDecision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var d stepDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("malformed step decision: %w", err)
	}

	switch d.NextStepType {
	case "action":
		if d.ActionName == "" {
			return nil, fmt.Errorf("action step without an action name")
		}
	case "finish":
	default:
		return nil, fmt.Errorf("unknown step type %q", d.NextStepType)
	}
	return &d, nil
}

// parseVerdict normalizes the gate answer. Anything that is not an
// explicit IGNORE or STOP proceeds to the loop.
func parseVerdict(text string) string {
	upper := strings.ToUpper(text)
	if strings.Contains(upper, verdictStop) {
		return verdictStop
	}
	if strings.Contains(upper, verdictIgnore) {
		return verdictIgnore
	}
	return verdictRespond
}
