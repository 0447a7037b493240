package learning

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// TopicKey normalizes a topic or grammar-point label so that mistakes from
// different sources group together ("Articles", " articles", "ARTICLES").
func TopicKey(topic string) string {
	s := norm.NFKC.String(topic)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
