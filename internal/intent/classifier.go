package intent

import (
	"sort"
	"strings"
)

type Type string

const (
	General   Type = "GENERAL"
	Knowledge Type = "KNOWLEDGE"
	Teaching  Type = "TEACHING"
	Unclear   Type = "UNCLEAR"
)

type Result struct {
	Intent     Type
	Confidence float64
	Entities   []string
}

// Config exposes the scoring boosts; the magnitudes are tuned values, so
// they are configuration rather than constants.
type Config struct {
	PhraseBoost     int
	AggressiveBoost int
	MaxEntities     int
}

func (c Config) withDefaults() Config {
	if c.PhraseBoost <= 0 {
		c.PhraseBoost = 2
	}
	if c.AggressiveBoost <= 0 {
		c.AggressiveBoost = 1
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = 5
	}
	return c
}

type Classifier struct {
	cfg Config
}

// normalizeMessage lowercases and strips punctuation so padded token
// matching is not defeated by commas and question marks.
func normalizeMessage(message string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '!', '?', ';', ':', '(', ')', '"', '\'':
			return ' '
		}
		return r
	}, strings.ToLower(message))
	return strings.Join(strings.Fields(mapped), " ")
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

var greetingTokens = []string{
	"xin chào", "chào bạn", "chào em", "chào anh", "chào chị", "chào thầy",
	"chào cô", "hello", "hi ", "hey", "good morning", "good afternoon",
}

var introductionPhrases = []string{
	"tôi là", "tôi tên", "em là", "em tên", "mình là", "mình tên",
	"my name is", "i am ", "i'm ",
}

var followUpCues = []string{
	"tại sao", "vì sao", "còn", "vậy thì", "vậy còn", "tiếp theo", "tiếp đi",
	"rồi sao", "thế còn", "nghĩa là sao", "là sao", "why", "and then",
	"what about", "continue", "more",
}

var knowledgeKeywords = []string{
	"colreg", "colregs", "solas", "marpol", "stcw", "imo",
	"quy tắc", "điều", "luật", "công ước", "quy định", "hàng hải",
	"tàu", "thuyền", "đèn", "tín hiệu", "va chạm", "cắt hướng", "vượt",
	"đối hướng", "nhường đường", "mạn phải", "mạn trái", "neo", "cảng",
	"hoa tiêu", "trực ca", "hải đồ", "radar",
	"rule", "regulation", "vessel", "ship", "collision", "crossing",
	"overtaking", "head-on", "give-way", "stand-on", "starboard", "port",
	"anchor", "lookout", "navigation", "seamanship", "buoy", "lighthouse",
}

var knowledgePhrases = []string{
	"quy tắc tránh va", "tình huống cắt hướng", "đèn hành trình",
	"tín hiệu âm thanh", "trực ca hàng hải", "an toàn hàng hải",
	"crossing situation", "risk of collision", "restricted visibility",
	"traffic separation scheme", "navigation lights", "sound signals",
}

var teachingKeywords = []string{
	"dạy", "học", "giải thích", "hướng dẫn", "ôn tập", "bài tập", "kiểm tra",
	"thi", "ví dụ", "luyện", "ghi nhớ",
	"teach", "learn", "explain", "tutorial", "practice", "quiz", "exercise",
	"example", "study", "review", "test",
}

var teachingPhrases = []string{
	"dạy tôi", "giúp tôi học", "ôn thi", "luyện tập", "kiểm tra kiến thức",
	"teach me", "help me learn", "quiz me", "step by step",
}

// Aggressive demand patterns correlate with task-style requests and give a
// weak boost to whichever side already matched.
var aggressivePatterns = []string{
	"phải", "ngay", "nhanh lên", "bắt buộc", "now", "must", "immediately",
}

// Classify is a pure function of the message and the previous turn's agent
// hint. Greetings take absolute priority; short cue-bearing messages are
// follow-ups; otherwise keyword scoring decides.
func (c *Classifier) Classify(message string, lastAgentHint Type) Result {
	norm := " " + normalizeMessage(message) + " "

	for _, tok := range greetingTokens {
		if strings.Contains(norm, " "+strings.TrimSpace(tok)+" ") {
			return Result{Intent: General, Confidence: 1.0}
		}
	}
	for _, phrase := range introductionPhrases {
		if strings.Contains(norm, phrase) {
			return Result{Intent: General, Confidence: 1.0}
		}
	}

	words := strings.Fields(strings.TrimSpace(norm))
	if len(words) < 8 {
		for _, cue := range followUpCues {
			if strings.Contains(norm, cue) {
				if lastAgentHint != "" && lastAgentHint != Unclear {
					return Result{Intent: lastAgentHint, Confidence: 0.85}
				}
				return Result{Intent: Knowledge, Confidence: 0.85}
			}
		}
	}

	var entities []string
	knowledgeScore := c.score(norm, knowledgeKeywords, knowledgePhrases, &entities)
	teachingScore := c.score(norm, teachingKeywords, teachingPhrases, nil)

	aggressive := false
	for _, pat := range aggressivePatterns {
		if strings.Contains(norm, pat) {
			aggressive = true
			break
		}
	}
	if aggressive {
		if knowledgeScore > 0 {
			knowledgeScore += c.cfg.AggressiveBoost
		}
		if teachingScore > 0 {
			teachingScore += c.cfg.AggressiveBoost
		}
	}

	sort.Strings(entities)
	if len(entities) > c.cfg.MaxEntities {
		entities = entities[:c.cfg.MaxEntities]
	}

	// Teaching wins only on top of maritime content; a study request with no
	// domain keywords is small talk, not a tutoring turn.
	switch {
	case teachingScore > knowledgeScore && knowledgeScore > 0:
		return Result{Intent: Teaching, Confidence: confidenceFor(teachingScore), Entities: entities}
	case knowledgeScore > 0:
		return Result{Intent: Knowledge, Confidence: confidenceFor(knowledgeScore), Entities: entities}
	default:
		return Result{Intent: General, Confidence: 0.8}
	}
}

func (c *Classifier) score(norm string, keywords, phrases []string, entities *[]string) int {
	score := 0
	seen := map[string]bool{}
	for _, phrase := range phrases {
		if strings.Contains(norm, phrase) {
			score += c.cfg.PhraseBoost
			if entities != nil && !seen[phrase] {
				seen[phrase] = true
				*entities = append(*entities, phrase)
			}
		}
	}
	for _, kw := range keywords {
		if strings.Contains(norm, " "+kw+" ") {
			score++
			if entities != nil && !seen[kw] {
				seen[kw] = true
				*entities = append(*entities, kw)
			}
		}
	}
	return score
}

func confidenceFor(score int) float64 {
	conf := 0.7 + 0.1*float64(score)
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
