package guidelines

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Tone is the conversational register the generated comment should follow.
type Tone string

const (
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
	ToneSupportive   Tone = "supportive"
	ToneTechnical    Tone = "technical"
	ToneAcademic     Tone = "academic"
	ToneCreative     Tone = "creative"
	ToneEnthusiastic Tone = "enthusiastic"
	ToneSkeptical    Tone = "skeptical"
	ToneDefault      Tone = "default"
)

// ContentType is a coarse classification of the text being commented on.
type ContentType string

const (
	ContentTechnical    ContentType = "technical"
	ContentAcademic     ContentType = "academic"
	ContentEmotional    ContentType = "emotional"
	ContentInquisitive  ContentType = "inquisitive"
	ContentHelpSeeking  ContentType = "help-seeking"
	ContentEnthusiastic ContentType = "enthusiastic"
	ContentGeneral      ContentType = "general"
)

const (
	longContentThreshold      = 1000
	shortContentThreshold     = 300
	veryShortContentThreshold = 100
)

var (
	codeKeywordPattern      = regexp.MustCompile(`\b(function|class|const|let|var|def|import|from|require)\b`)
	htmlTagPattern          = regexp.MustCompile(`(?is)<[a-z].*>`)
	academicVocabPattern    = regexp.MustCompile(`(?i)\b(research|study|analysis|theory|literature|findings|methodology)\b`)
	emotionVocabPattern     = regexp.MustCompile(`(?i)\b(feeling|hurt|sad|happy|excited|worried|anxious|proud)\b`)
	trailingQuestionPattern = regexp.MustCompile(`\?{1,3}$`)
	helpVocabPattern        = regexp.MustCompile(`(?i)\b(help|advice|suggestion|recommend|opinion)\b`)
	trailingExclaimPattern  = regexp.MustCompile(`!\s*$`)
	enthusiasmVocabPattern  = regexp.MustCompile(`(?i)\b(wow|amazing|incredible|awesome)\b`)
)

type contentRule struct {
	matches func(content, trimmed string) bool
	label   ContentType
}

// Evaluated top to bottom, first match wins.
var contentRules = []contentRule{
	{
		matches: func(content, _ string) bool {
			return strings.Contains(content, "```") ||
				codeKeywordPattern.MatchString(content) ||
				htmlTagPattern.MatchString(content)
		},
		label: ContentTechnical,
	},
	{
		matches: func(content, _ string) bool { return academicVocabPattern.MatchString(content) },
		label:   ContentAcademic,
	},
	{
		matches: func(content, _ string) bool { return emotionVocabPattern.MatchString(content) },
		label:   ContentEmotional,
	},
	{
		matches: func(content, trimmed string) bool {
			return trailingQuestionPattern.MatchString(trimmed) || strings.Count(content, "?") > 1
		},
		label: ContentInquisitive,
	},
	{
		matches: func(content, _ string) bool { return helpVocabPattern.MatchString(content) },
		label:   ContentHelpSeeking,
	},
	{
		matches: func(content, trimmed string) bool {
			return trailingExclaimPattern.MatchString(trimmed) || enthusiasmVocabPattern.MatchString(content)
		},
		label: ContentEnthusiastic,
	},
}

// ClassifyContent returns the first content type whose rule matches.
func ClassifyContent(content string) ContentType {
	trimmed := strings.TrimSpace(content)
	for _, rule := range contentRules {
		if rule.matches(content, trimmed) {
			return rule.label
		}
	}

	return ContentGeneral
}

type toneCategory struct {
	tone     Tone
	patterns []*regexp.Regexp
}

// Declaration order doubles as the tie-break order.
var toneCategories = []toneCategory{
	{
		tone: ToneFormal,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(therefore|furthermore|consequently|hence|thus|accordingly)\b`),
			regexp.MustCompile(`(?i)\b(we propose|it is evident|it can be observed|it is necessary to)\b`),
			regexp.MustCompile(`(?i)\b(in conclusion|to summarize|in summary)\b`),
		},
	},
	{
		tone: ToneTechnical,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(implementation|algorithm|function|method|code|bug|error|syntax|framework|library)\b`),
			regexp.MustCompile(`(?i)\b(result in|output|input|parameter|variable|constant|value|return|call|execute)\b`),
			regexp.MustCompile(`(?i)\bstack\s*trace\b|exception|error`),
		},
	},
	{
		tone: ToneCasual,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hey|hi|thanks|cool|awesome|btw|lol|haha|yeah|nope)\b`),
			regexp.MustCompile(`(?i)\b(kinda|sorta|gonna|wanna|gotta|dunno)\b`),
			regexp.MustCompile(`(?i)\b(right|so|anyway|like|actually|basically|literally|honestly)\b`),
		},
	},
	{
		tone: ToneAcademic,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(research|study|analysis|theory|framework|methodology|literature|findings|evidence|data)\b`),
			regexp.MustCompile(`(?i)\b(suggests that|indicates that|demonstrates that|hypothesize|theorize)\b`),
			regexp.MustCompile(`(?i)\b(significant|correlation|causation|implications|perspective)\b`),
		},
	},
	{
		tone: ToneSupportive,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(understand|support|help|encourage|appreciate|value|respect)\b`),
			regexp.MustCompile(`(?i)\b(don't worry|it's okay|that's valid|you're right|good job|well done)\b`),
			regexp.MustCompile(`(?i)\b(hope|wish|suggest|recommend|advise|consider)\b`),
		},
	},
	{
		tone: ToneEnthusiastic,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(love|amazing|incredible|excellent|fantastic|brilliant|outstanding)\b`),
			regexp.MustCompile(`!{1,3}`),
			regexp.MustCompile(`(?i)\b(can't wait|looking forward|excited|thrilled|delighted)\b`),
		},
	},
	{
		tone: ToneSkeptical,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(doubt|skeptical|unconvinced|question|concerned|worried about|not sure)\b`),
			regexp.MustCompile(`(?i)\b(really\?|is that so\?|how do you know\?|what evidence)\b`),
			regexp.MustCompile(`(?i)\b(seems|appears|allegedly|supposedly|claimed)\b`),
		},
	},
	{
		tone: ToneCreative,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(imagine|envision|create|design|inspire|artistic|beautiful|aesthetic)\b`),
			regexp.MustCompile(`(?i)\b(perhaps|maybe|what if|consider|picture this|visualize)\b`),
			regexp.MustCompile(`(?i)\b(metaphor|symbolism|represents|conveys|expresses)\b`),
		},
	},
}

type toneBonus struct {
	tone   Tone
	amount int
}

var contentTypeBonuses = map[ContentType]toneBonus{
	ContentTechnical:    {tone: ToneTechnical, amount: 3},
	ContentAcademic:     {tone: ToneAcademic, amount: 3},
	ContentEmotional:    {tone: ToneSupportive, amount: 3},
	ContentInquisitive:  {tone: ToneCasual, amount: 2},
	ContentHelpSeeking:  {tone: ToneSupportive, amount: 2},
	ContentEnthusiastic: {tone: ToneEnthusiastic, amount: 3},
}

// ToneScore is the score one tone category reached for a piece of content.
type ToneScore struct {
	Tone  Tone
	Score int
}

// ScoreTones returns the per-category scores in tie-break order.
func ScoreTones(content string) []ToneScore {
	length := utf8.RuneCountInString(content)
	bonus := contentTypeBonuses[ClassifyContent(content)]

	scores := make([]ToneScore, 0, len(toneCategories))
	for _, category := range toneCategories {
		score := 0
		for _, pattern := range category.patterns {
			score += len(pattern.FindAllStringIndex(content, -1))
		}

		if category.tone == ToneFormal && length > longContentThreshold {
			score += 2
		}
		if category.tone == ToneCasual && length < shortContentThreshold {
			score += 2
		}
		if category.tone == bonus.tone {
			score += bonus.amount
		}

		scores = append(scores, ToneScore{Tone: category.tone, Score: score})
	}

	return scores
}

// InferTone picks the first strictly highest scoring tone. Content with no
// signal at all falls back to casual when very short and default otherwise.
func InferTone(content string) Tone {
	dominant := ToneDefault
	highest := 0
	for _, s := range ScoreTones(content) {
		if s.Score > highest {
			highest = s.Score
			dominant = s.Tone
		}
	}

	if highest == 0 && utf8.RuneCountInString(content) < veryShortContentThreshold {
		return ToneCasual
	}

	return dominant
}

// ParseTone normalizes a caller supplied tone label.
// The second result is false for empty or unknown labels.
func ParseTone(label string) (Tone, bool) {
	tone := Tone(strings.ToLower(strings.TrimSpace(label)))
	if _, ok := baseGuidelines[tone]; !ok {
		return "", false
	}

	return tone, true
}

// ResolveTone returns the explicit tone when it is known, otherwise the tone
// inferred from content.
func ResolveTone(content, explicit string) Tone {
	if tone, ok := ParseTone(explicit); ok {
		return tone
	}

	return InferTone(content)
}
