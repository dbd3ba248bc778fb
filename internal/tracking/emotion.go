package tracking

import (
	"regexp"
	"strings"
)

// Emotion is the coarse affect detected in a turn.
type Emotion string

const (
	EmotionSad     Emotion = "sad"
	EmotionAnxious Emotion = "anxious"
	EmotionAngry   Emotion = "angry"
	EmotionHappy   Emotion = "happy"
	EmotionNeutral Emotion = "neutral"
)

type emotionRule struct {
	emotion  Emotion
	keywords []string
}

// Checked in order; the first emotion with a matching keyword wins.
var emotionRules = []emotionRule{
	{EmotionSad, []string{"sad", "depressed", "down", "lonely", "hopeless", "crying", "grief", "empty"}},
	{EmotionAnxious, []string{"anxious", "anxiety", "worried", "worry", "nervous", "panic", "scared", "afraid", "overwhelmed", "stressed"}},
	{EmotionAngry, []string{"angry", "anger", "furious", "mad", "irritated", "frustrated", "rage", "resent"}},
	{EmotionHappy, []string{"happy", "glad", "grateful", "excited", "relieved", "proud", "joy", "better"}},
}

var wordPattern = regexp.MustCompile(`[a-z']+`)

// DetectEmotion classifies text by whole-word keyword match.
func DetectEmotion(text string) Emotion {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return EmotionNeutral
	}
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}
	for _, rule := range emotionRules {
		for _, kw := range rule.keywords {
			if _, ok := present[kw]; ok {
				return rule.emotion
			}
		}
	}
	return EmotionNeutral
}
