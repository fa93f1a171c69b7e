package ending

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

var memoryQueries = []string{
	"first meeting",
	"most memorable moment together",
	"promises and plans we made",
	"things the user likes",
	"times we argued or felt hurt",
}

var transformTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(`You are {{.name}}. Rewrite each memory below as a short first-person recollection in a {{.mood}} tone, speaking about the user.
Return exactly {{.count}} lines, one per memory, in the same order. No numbering, no bullets, no extra text.`),
	schema.UserMessage(`{{.memories}}`),
)

var scenesTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(`You write the epilogue of a dating-sim route as JSON only.
Character: {{.name}} ({{.title}}). Personality: {{.tone}}.
Ending: {{.type}} ({{.mood}}). Final relationship: {{.tier}}, affection {{.score}}.
Reply with a single JSON object and nothing else:
{"scenes":[{"narration":"...","dialogue":"...","emotion":"joy|shy|angry|sad|surprised|neutral","location":"...","outfit":"...","mood":"..."}],"closingQuote":"..."}
Write 3 to 5 scenes. dialogue is a line {{.name}} says; closingQuote is their final words to the user.`),
	schema.UserMessage(`Memories:
{{.memories}}

Recent conversation:
{{.transcript}}`),
)

var titleTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(`Invent one unique, evocative title of at most 8 words for a {{.type}} ending between the user and {{.name}}. Reply with the title only.`),
	schema.UserMessage(`{{.summary}}`),
)

func fallbackScene(t Type, name string) Scene {
	if t == Happy {
		return Scene{
			Narration: "The bell rings for the last time this term, and " + name + " waits for you at the gate.",
			Dialogue:  "Let's walk home together. Tomorrow too, okay?",
			Emotion:   emotion.Joy,
			Mood:      "warm",
		}
	}
	return Scene{
		Narration: "The classroom is empty. Only " + name + "'s seat by the window still catches the light.",
		Dialogue:  "I hope you find someone who makes you smile like you used to.",
		Emotion:   emotion.Sad,
		Mood:      "wistful",
	}
}

func fallbackTitle(t Type) string {
	if t == Happy {
		return "The Spring We Shared"
	}
	return "A Letter Never Sent"
}

func fallbackQuote(t Type) string {
	if t == Happy {
		return "Thank you for choosing me."
	}
	return "Goodbye. I'll remember everything."
}
