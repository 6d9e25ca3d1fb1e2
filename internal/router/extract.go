package router

import (
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
)

// ExtractText renders an A2A send result as plain text.
//
// For a task the status message wins, then artifact text, then the last
// agent message in the history.
func ExtractText(result a2a.SendMessageResult) string {
	switch v := result.(type) {
	case *a2a.Task:
		if v.Status.Message != nil && len(v.Status.Message.Parts) > 0 {
			return renderParts(v.Status.Message.Parts)
		}
		var texts []string
		for _, art := range v.Artifacts {
			for _, p := range art.Parts {
				if tp, ok := p.(a2a.TextPart); ok {
					texts = append(texts, tp.Text)
				}
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
		for i := len(v.History) - 1; i >= 0; i-- {
			if m := v.History[i]; m.Role == a2a.MessageRoleAgent && len(m.Parts) > 0 {
				return renderParts(m.Parts)
			}
		}
		return "Agent completed task but returned no text content."

	case *a2a.Message:
		if len(v.Parts) == 0 {
			return "Agent returned an empty message."
		}
		return renderParts(v.Parts)
	}
	return ""
}

// renderParts joins text parts and marks everything else as [<kind> content].
func renderParts(parts a2a.ContentParts) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, renderPart(p))
	}
	return strings.Join(texts, "\n")
}

func renderPart(p a2a.Part) string {
	switch v := p.(type) {
	case a2a.TextPart:
		return v.Text
	case *a2a.TextPart:
		return v.Text
	case a2a.DataPart, *a2a.DataPart:
		return "[data content]"
	case a2a.FilePart, *a2a.FilePart:
		return "[file content]"
	}
	return fmt.Sprintf("[%T content]", p)
}
