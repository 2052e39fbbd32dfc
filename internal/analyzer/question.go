package analyzer

import (
	"math/rand"
	"strings"
	"unicode"
	"unicode/utf8"
)

var questionTemplates = map[string][]string{
	ContextControversy: {
		"O que vocês acharam dessa declaração?",
		"Concordam com essa opinião?",
		"Essa foi uma boa resposta?",
		"Quem está certo nessa discussão?",
		"Qual a opinião de vocês sobre isso?",
	},
	ContextDiscussion: {
		"Quem vocês apoiam nessa discussão?",
		"Qual lado tem razão?",
		"O que vocês fariam nessa situação?",
		"Concordam com essa atitude?",
		"Quem está sendo mais sensato?",
	},
	ContextConfusion: {
		"Entenderam alguma coisa?",
		"Alguém consegue explicar isso?",
		"Que confusão foi essa?",
		"Vocês estão perdidos também?",
		"Conseguiram acompanhar?",
	},
	ContextShame: {
		"Que vergonha alheia foi essa?",
		"Vocês sentiram o constrangimento?",
		"Alguém mais ficou com vergonha?",
		"Que situação embaraçosa!",
		"Deu para sentir o climão?",
	},
}

var optionTemplates = map[string][]string{
	TemplateAgreement:     {"Concordo totalmente", "Concordo parcialmente", "Discordo", "Não tenho opinião"},
	TemplateQuality:       {"Muito bom", "Bom", "Regular", "Ruim", "Péssimo"},
	TemplateSupport:       {"Apoio 100%", "Apoio", "Neutro", "Não apoio", "Sou contra"},
	TemplateUnderstanding: {"Entendi tudo", "Entendi mais ou menos", "Não entendi nada", "Estou confuso"},
	TemplateShame:         {"Muita vergonha", "Vergonha moderada", "Pouca vergonha", "Sem vergonha"},
	TemplatePeople:        {"Pessoa A", "Pessoa B", "Ambos", "Nenhum dos dois"},
	TemplateYesNo:         {"Sim", "Não", "Talvez", "Não sei"},
}

var stopWords = map[string]bool{
	"o": true, "a": true, "os": true, "as": true, "um": true, "uma": true, "de": true, "do": true, "da": true,
	"em": true, "no": true, "na": true, "para": true, "por": true, "com": true, "sem": true, "que": true,
	"é": true, "são": true, "foi": true, "foram": true, "ser": true, "estar": true, "ter": true, "haver": true,
	"isso": true, "isto": true, "aquilo": true, "ele": true, "ela": true, "eles": true, "elas": true,
	"eu": true, "tu": true, "você": true, "nós": true, "vocês": true,
}

// keywords returns up to three content words from text, in order.
func keywords(text string) []string {
	var out []string
	for _, w := range words(strings.ToLower(text)) {
		if utf8.RuneCountInString(w) > 3 && !stopWords[w] {
			out = append(out, w)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

// buildQuestion picks a prompt for the finding's context and fills the
// generic references with a keyword from the segment.
func buildQuestion(f Finding, rng *rand.Rand) string {
	list, ok := questionTemplates[f.Context]
	if !ok {
		list = questionTemplates[ContextControversy]
	}
	q := list[rng.Intn(len(list))]
	if kw := keywords(f.Segment); len(kw) > 0 {
		q = strings.Replace(q, "dessa declaração", `de "`+kw[0]+`"`, 1)
		q = strings.Replace(q, "essa opinião", "a opinião sobre "+kw[0], 1)
	}
	return q
}

// buildOptions returns the option texts for the finding's template. Named
// options use up to two detected names.
func buildOptions(f Finding) []string {
	opts := append([]string(nil), optionTemplates[f.Template]...)
	if len(opts) == 0 {
		opts = append(opts, optionTemplates[TemplateAgreement]...)
	}
	if f.Template == TemplatePeople {
		for i := 0; i < len(f.Names) && i < 2; i++ {
			opts[i] = capitalize(f.Names[i])
		}
	}
	return opts
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
