package analyze

import (
	"fmt"
	"strings"
)

// BuildPrompt composes the single classification prompt. The model must
// answer with one JSON object in a fixed schema; when folders are supplied
// the prompt forces a verbatim choice from their names.
func BuildPrompt(text, fileName string, folders []SmartFolder) string {
	var sb strings.Builder

	sb.WriteString("You are a file organization assistant. Classify the document below and respond with a single JSON object, nothing else.\n\n")
	sb.WriteString("The JSON object must have exactly these fields:\n")
	sb.WriteString(`{"category": string, "keywords": [3-10 short strings], "confidence": number 0-100, "suggestedName": string, "purpose": one-sentence string, "entities": [strings], "date": "YYYY-MM-DD" or null}`)
	sb.WriteString("\n\n")

	if len(folders) > 0 {
		sb.WriteString("category MUST be copied verbatim from this list, character for character. Do not invent a category:\n")
		for _, f := range folders {
			if f.Description != "" {
				fmt.Fprintf(&sb, "- %q (%s)\n", f.Name, f.Description)
			} else {
				fmt.Fprintf(&sb, "- %q\n", f.Name)
			}
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Choose a short general category such as Documents, Finance, Legal, Personal, or Technical.\n\n")
	}

	fmt.Fprintf(&sb, "File name: %s\n\n", fileName)
	sb.WriteString("Document content:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nJSON:")

	return sb.String()
}
