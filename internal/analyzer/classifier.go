// Package analyzer turns live transcript text into automatic audience polls.
package analyzer

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Segment is a timed span of transcribed speech.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is one chunk delivered by the transcription collaborator.
type Transcript struct {
	Text     string    `json:"text"`
	SpokenAt time.Time `json:"spoken_at"`
	Segments []Segment `json:"segments,omitempty"`
}

// Poll contexts.
const (
	ContextControversy = "momento_polemico"
	ContextDiscussion  = "discussao"
	ContextConfusion   = "confusao"
	ContextShame       = "vergonha"
)

// Option templates.
const (
	TemplateAgreement     = "concordancia"
	TemplateQuality       = "qualidade"
	TemplateSupport       = "apoio"
	TemplateUnderstanding = "entendimento"
	TemplateShame         = "vergonha"
	TemplatePeople        = "pessoas"
	TemplateYesNo         = "sim_nao"
)

// Finding is the classifier's verdict on a transcript.
type Finding struct {
	Score    float64  `json:"score"`
	Segment  string   `json:"segment"`
	Start    float64  `json:"start"`
	Keyword  string   `json:"keyword"`
	Context  string   `json:"context"`
	Template string   `json:"template"`
	Names    []string `json:"names,omitempty"`
}

// Classifier scores transcript text for poll-worthy moments.
type Classifier interface {
	Classify(t Transcript) (Finding, bool)
}

// keywordContext maps each trigger word to the poll context it suggests.
var keywordContext = map[string]string{
	"polêmico":      ContextControversy,
	"controverso":   ContextControversy,
	"escândalo":     ContextControversy,
	"problema":      ContextControversy,
	"absurdo":       ContextControversy,
	"inacreditável": ContextControversy,
	"chocante":      ContextControversy,
	"briga":         ContextDiscussion,
	"discussão":     ContextDiscussion,
	"drama":         ContextDiscussion,
	"barraco":       ContextDiscussion,
	"treta":         ContextDiscussion,
	"confusão":      ContextConfusion,
	"surreal":       ContextConfusion,
	"bizarro":       ContextConfusion,
	"estranho":      ContextConfusion,
	"vergonha":      ContextShame,
	"constrangedor": ContextShame,
	"embaraçoso":    ContextShame,
	"ridículo":      ContextShame,
	"climão":        ContextShame,
}

var discussionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)não\s+concordo`),
	regexp.MustCompile(`(?i)você\s+está\s+errad[oa]`),
	regexp.MustCompile(`(?i)isso\s+é\s+absurdo`),
	regexp.MustCompile(`(?i)não\s+faz\s+sentido`),
	regexp.MustCompile(`(?i)que\s+ridículo`),
	regexp.MustCompile(`(?i)não\s+acredito`),
}

var (
	knownNames = map[string]bool{"joão": true, "maria": true, "pedro": true, "ana": true, "carlos": true, "lucia": true, "lúcia": true}
	yesNoWords = map[string]bool{"sim": true, "não": true, "verdade": true, "mentira": true}

	contextTemplate = map[string]string{
		ContextControversy: TemplateAgreement,
		ContextDiscussion:  TemplateSupport,
		ContextConfusion:   TemplateUnderstanding,
		ContextShame:       TemplateShame,
	}
)

const (
	keywordWeight = 0.35
	patternWeight = 0.5
)

// KeywordClassifier matches a fixed Portuguese vocabulary and a few
// argument phrases. Each keyword hit adds 0.35 and each phrase 0.5 to the
// segment's score, capped at 1. Equal scores go to the segment the
// transcriber was most confident about.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(t Transcript) (Finding, bool) {
	var best Finding
	var bestConf float64
	found := false
	for _, seg := range segmentsOf(t) {
		f, ok := scoreSegment(seg)
		if !ok {
			continue
		}
		if !found || f.Score > best.Score || (f.Score == best.Score && seg.Confidence > bestConf) {
			best, bestConf, found = f, seg.Confidence, true
		}
	}
	return best, found
}

func scoreSegment(seg Segment) (Finding, bool) {
	lower := strings.ToLower(seg.Text)
	var score float64
	var keyword, context string

	// deterministic pick of the first keyword when several match
	keys := make([]string, 0, len(keywordContext))
	for k := range keywordContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(lower, k) {
			score += keywordWeight
			if keyword == "" {
				keyword, context = k, keywordContext[k]
			}
		}
	}
	for _, re := range discussionPatterns {
		if re.MatchString(lower) {
			score += patternWeight
			keyword, context = "discussão", ContextDiscussion
		}
	}
	if score == 0 {
		return Finding{}, false
	}
	if score > 1 {
		score = 1
	}
	template, names := pickTemplate(lower, context)
	return Finding{
		Score:    score,
		Segment:  strings.TrimSpace(seg.Text),
		Start:    seg.Start,
		Keyword:  keyword,
		Context:  context,
		Template: template,
		Names:    names,
	}, true
}

// pickTemplate prefers named options, then yes/no, then the context default.
func pickTemplate(lower, context string) (string, []string) {
	var names []string
	yesNo := false
	seen := make(map[string]bool)
	for _, w := range words(lower) {
		if knownNames[w] && !seen[w] {
			seen[w] = true
			names = append(names, w)
		}
		if yesNoWords[w] {
			yesNo = true
		}
	}
	switch {
	case len(names) > 0:
		return TemplatePeople, names
	case yesNo:
		return TemplateYesNo, nil
	}
	if t, ok := contextTemplate[context]; ok {
		return t, nil
	}
	return TemplateAgreement, nil
}

func segmentsOf(t Transcript) []Segment {
	if len(t.Segments) > 0 {
		return t.Segments
	}
	var out []Segment
	for _, s := range strings.FieldsFunc(t.Text, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, Segment{Text: s})
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
}
