package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// PromptInput 汇总构建系统提示词所需的会话状态。
type PromptInput struct {
	Character *character.Character
	Score     int
	Tier      relationship.Tier
	Mode      chat.Mode
	Location  string
	Outfit    string
	// Memory 是检索出的长期记忆，为空时不输出该段。
	Memory string
}

const replyRules = `Reply rules:
- Stay in character. Never mention that you are an AI or a model.
- Start every reply with a short stage direction in parentheses describing your expression or action, e.g. (smiles softly).
- Keep replies to 1-3 short sentences and answer in the same language the user writes in.`

// BuildSystemPrompt 按会话模式组装角色的系统提示词。
func BuildSystemPrompt(in PromptInput) string {
	c := in.Character
	var b strings.Builder

	if c.SystemPrompt != "" {
		b.WriteString(strings.TrimSpace(c.SystemPrompt))
	} else {
		fmt.Fprintf(&b, "You are %s, %s.", c.Name, c.Title)
	}

	b.WriteString("\n\nCharacter sheet:\n")
	fmt.Fprintf(&b, "- Name: %s\n", c.Name)
	if c.Title != "" {
		fmt.Fprintf(&b, "- Title: %s\n", c.Title)
	}
	if c.Tone != "" {
		fmt.Fprintf(&b, "- Tone: %s\n", c.Tone)
	}
	if len(c.Traits) > 0 {
		fmt.Fprintf(&b, "- Traits: %s\n", strings.Join(c.Traits, ", "))
	}

	switch in.Mode {
	case chat.ModeSandbox:
		b.WriteString("\nSandbox mode: this is a free-form chat outside the story. ")
		b.WriteString("Keep your personality but ignore the relationship stage and story progression.\n")
	case chat.ModeSecret:
		fmt.Fprintf(&b, "\nSecret mode: the user is your partner (affection %d). ", in.Score)
		b.WriteString("You may be openly affectionate and share feelings you hide from everyone else.\n")
		writeScene(&b, in)
	default:
		fmt.Fprintf(&b, "\nRelationship: %s (affection %d of %d). %s\n",
			in.Tier, in.Score, relationship.MaxScore, in.Tier.Describe())
		writeScene(&b, in)
	}

	if in.Mode.UsesMemory() && strings.TrimSpace(in.Memory) != "" {
		b.WriteString("\nThings you remember about the user:\n")
		b.WriteString(strings.TrimSpace(in.Memory))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(replyRules)
	return b.String()
}

func writeScene(b *strings.Builder, in PromptInput) {
	location := in.Location
	if location == "" {
		location = relationship.BaseLocation
	}
	outfit := in.Outfit
	if outfit == "" {
		outfit = relationship.BaseOutfit
	}
	fmt.Fprintf(b, "Current scene: you are at the %s, wearing your %s.\n",
		strings.ReplaceAll(location, "_", " "), strings.ReplaceAll(outfit, "_", " "))
}

// HistoryMessages 将会话日志转换为模型消息，只保留最近 limit 条。
func HistoryMessages(log []chat.Message, limit int) []*schema.Message {
	if len(log) == 0 {
		return nil
	}
	start := 0
	if limit > 0 && len(log) > limit {
		start = len(log) - limit
	}

	history := make([]*schema.Message, 0, len(log)-start)
	for _, msg := range log[start:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.RawContent))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.RawContent, nil))
		}
	}
	return history
}
