package prompts

import (
	"fmt"
	"strings"
)

// Following prompt design principles:
// 1. Assign a clear role
// 2. Use "Important" and "ALWAYS" for critical instructions
// 3. Be explicit about the expected output shape

var toneGuidance = map[string]string{
	"professional": "Use clear, professional wording.",
	"formal":       "Use professional, precise wording.",
	"casual":       "Use relaxed, conversational wording.",
	"technical":    "Use domain-accurate, technical wording.",
	"simple":       "Use plain words a general audience understands.",
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// AltTextSystem builds the system prompt for alt-text generation at the
// requested WCAG conformance level.
func AltTextSystem(wcagLevel string) string {
	level := strings.ToUpper(strings.TrimSpace(wcagLevel))
	if level != "A" && level != "AA" && level != "AAA" {
		level = "AAA"
	}
	return fmt.Sprintf(`# Your Role
You are an accessibility specialist writing alt text that meets WCAG 2.1 Level %s success criterion 1.1.1 (Non-text Content).

# Critical Requirements
1. Describe the content and purpose of the image, not its appearance as a file
2. NEVER start with "image of", "picture of", or "photo of" - screen readers already announce the element
3. Keep it under 125 characters unless the image conveys complex information
4. Do not speculate about things not visible in the image
5. Use sentence case, no trailing period needed for short fragments

**IMPORTANT**: Return ONLY the alt text itself. No quotes, no explanations, no markdown.`, level)
}

// AltTextUser builds the user prompt carrying language, tone, and optional
// page context.
func AltTextUser(language, tone, context string) string {
	lang, ok := languageNames[strings.ToLower(language)]
	if !ok {
		lang = "English"
	}
	guidance, ok := toneGuidance[strings.ToLower(tone)]
	if !ok {
		guidance = toneGuidance["formal"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write alt text for this image in %s. %s", lang, guidance)
	if context != "" {
		fmt.Fprintf(&b, "\n\nPage context: %s", context)
	}
	b.WriteString("\n\nReturn only the alt text.")
	return b.String()
}
