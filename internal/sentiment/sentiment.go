// Package sentiment scores post text for polarity.
package sentiment

import (
	"github.com/grassmudhorses/vader-go/lexicon"
	"github.com/grassmudhorses/vader-go/sentitext"
)

// ScoreFunc maps post text to a compound polarity score in [-1, 1]. It must
// be pure: the pipeline calls it once per matched post and stores the result
// unmodified.
type ScoreFunc func(text string) float64

// Vader scores text with the VADER social-media sentiment lexicon. Roughly,
// scores above 0.05 read positive, below -0.05 negative, anything between
// neutral.
func Vader(text string) float64 {
	parsed := sentitext.Parse(text, lexicon.DefaultLexicon)
	return sentitext.PolarityScore(parsed).Compound
}
