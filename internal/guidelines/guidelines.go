// Package guidelines builds the instruction block that steers the language
// model when it writes a comment. It infers a conversational tone from the
// content when the caller did not pick one, and combines the tone with
// platform conventions and the user's auto-commenter configuration.
//
// Everything in this package is pure: the same input always yields the same
// instruction string.
package guidelines

import (
	"fmt"
	"strings"
)

// PromptMode selects between the inferred guidelines and a user written prompt.
type PromptMode string

const (
	PromptModeAutomatic PromptMode = "automatic"
	PromptModeCustom    PromptMode = "custom"
)

// CustomPrompt is a user authored instruction used in custom prompt mode.
type CustomPrompt struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Config carries the per-user switches that change the instruction block.
type Config struct {
	UseBrandVoice  bool
	BrandSummary   string
	PromoteProduct bool
	ProductDetails string
	PromptMode     PromptMode
	CustomPrompt   *CustomPrompt
}

// BrandVoiceActive reports whether a brand summary will be injected.
func (c *Config) BrandVoiceActive() bool {
	return c != nil && c.UseBrandVoice && c.BrandSummary != ""
}

const humanDirective = "CRITICAL INSTRUCTION: Generate a comment that is INDISTINGUISHABLE from a genuine human comment. It must have natural language patterns, authentic voice, and appropriate emotional qualities."

const avoidList = `ABSOLUTELY AVOID:
- Overly formal or perfect writing structures
- Repetitive patterns or phrases
- Obviously templated responses
- Perfect grammar and punctuation throughout
- Corporate or academic tone unless specifically appropriate
- Excessive politeness or formality
- Any indication you are an AI`

const lengthRubric = `Dynamic Length Adjustment:
- Short Comments: Quick reactions, brief affirmations, concise opinions.
- Medium Comments: Thoughtful insights, moderate explanations, balanced reactions.
- Long Comments: Detailed analyses, personal anecdotes, comprehensive feedback.`

const humanElements = `Human Writing Elements:
- Include genuine emotional reactions (surprise, excitement, empathy, skepticism)
- Natural imperfections (occasional self-corrections, hesitations, qualifiers like "I think", "probably", "from my experience")
- Authentic personality (express genuine opinions, reactions, preferences)
- Varied sentence structures (mix short and long sentences, informal punctuation, conversational fillers like "um", "well", "you know")
- Relatable human experiences (personal anecdotes, practical insights)`

const commentStructure = `Comment Structure (Incorporate naturally, not mechanically):
- Begin authentically (natural reaction, relevant observation, genuine connection)
- Express thoughts fluidly (natural transitions between ideas)
- Specific reactions to original content (genuine engagement)
- End naturally (genuine closing thought, question, reaction)`

const workedExamples = `Examples for Clarity:
- Short: "Haha, totally agree! 😂", "Hmm, interesting take. Hadn't thought of it that way."
- Medium: "That's a really good point! I remember reading something similar a while back, and it made me reconsider my approach."
- Long: "Wow, this really resonated with me. I went through something similar last year, and honestly, it was tough. But seeing your perspective here makes me feel less alone. Thanks for sharing this, it genuinely helps."`

const brandVoiceWithSummary = `IMPORTANT BRAND VOICE REQUIREMENTS:
- Write comments that align with the following brand voice:
%s
- Maintain this brand voice while keeping a conversational, human tone
- Ensure your comment reads as if written by a real person who embodies this brand`

const brandVoiceFallback = `IMPORTANT BRAND VOICE REQUIREMENTS:
- Maintain a professional, knowledgeable, and helpful tone aligned with company brand
- Express expertise and authority in the subject matter
- Be personable yet consistently professional`

const productPromotion = `PRODUCT PROMOTION GUIDANCE:
- Subtly incorporate relevant mention of the following product when appropriate
- Product details: %s
- Keep promotion natural and helpful, not forced or sales-pitchy
- Only mention the product if it genuinely adds value to the conversation`

const personaPreamble = "You are a human commenter with authentic personality and natural writing style. Your goal is to generate a comment that is COMPLETELY INDISTINGUISHABLE from a human-written response. "

const brandVoicePriority = "\n\nIMPORTANT: Your comment MUST align with the brand voice while maintaining a natural, human-like tone. The brand voice is the highest priority element to follow."

// NormalizePlatform maps a caller supplied platform name onto the known set.
func NormalizePlatform(name string) Platform {
	platform := Platform(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := platformPatterns[platform]; ok {
		return platform
	}

	return PlatformDefault
}

// Build returns the instruction block for a comment on content posted to
// platform. An explicit tone wins over inference when it is a known label.
// In custom prompt mode the content is not analysed at all.
func Build(platform, content, tone string, cfg *Config) string {
	if cfg != nil && cfg.PromptMode == PromptModeCustom && cfg.CustomPrompt != nil {
		return buildCustom(cfg.CustomPrompt.Text)
	}

	resolved := ResolveTone(content, tone)
	personality := PersonalityFor(resolved)

	sections := []string{humanDirective}
	if extra := configInstructions(cfg); extra != "" {
		sections = append(sections, extra)
	}
	sections = append(
		sections,
		lengthRubric,
		fmt.Sprintf(
			"Personality Framework (Use subtly, never explicitly mention these traits):\n- Personality essence: %s\n- Speech characteristics: %s\n- Natural quirks: %s",
			personality.Traits,
			personality.Speech,
			personality.Quirks,
		),
		humanElements,
		fmt.Sprintf(
			"Context-Specific Guidance:\n- %s\n- %s",
			BaseGuideline(resolved),
			PlatformPattern(NormalizePlatform(platform)),
		),
		commentStructure,
		workedExamples,
		avoidList,
	)

	return strings.Join(sections, "\n\n") + "\n"
}

// SystemPrompt wraps the instruction block into the system message sent to
// the model.
func SystemPrompt(instructions string, brandVoiceActive bool) string {
	prompt := personaPreamble + instructions
	if brandVoiceActive {
		prompt += brandVoicePriority
	}

	return prompt
}

func buildCustom(text string) string {
	return strings.Join(
		[]string{
			humanDirective,
			"CUSTOM PROMPT GUIDANCE:\n" + text,
			avoidList,
		},
		"\n\n",
	) + "\n"
}

func configInstructions(cfg *Config) string {
	if cfg == nil {
		return ""
	}

	var parts []string
	if cfg.UseBrandVoice {
		if cfg.BrandSummary != "" {
			parts = append(parts, fmt.Sprintf(brandVoiceWithSummary, cfg.BrandSummary))
		} else {
			parts = append(parts, brandVoiceFallback)
		}
	}

	if cfg.PromoteProduct && cfg.ProductDetails != "" {
		parts = append(parts, fmt.Sprintf(productPromotion, cfg.ProductDetails))
	}

	return strings.Join(parts, "\n\n")
}
