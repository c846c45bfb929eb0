package session

import "regexp"

// ReplyKind classifies a user's reply to a confirmation prompt
type ReplyKind int

const (
	ReplyUnclear ReplyKind = iota
	ReplyAffirmative
	ReplyNegative
)

// String returns a label for logs
func (k ReplyKind) String() string {
	switch k {
	case ReplyAffirmative:
		return "affirmative"
	case ReplyNegative:
		return "negative"
	default:
		return "unclear"
	}
}

// Fixed phrase sets, matched case-insensitively on word boundaries.
// Negative phrases are checked first: "no, don't send help" must cancel
// even though it also contains "help".
var (
	negativeReply = regexp.MustCompile(`(?i)\b(no|nope|stop|cancel|don'?t|false alarm|i'?m (ok|okay|fine|alright)|never ?mind|mistake)\b`)

	affirmativeReply = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|ok|okay|sure|please|help|confirm|hurry|send (help|someone)|call (them|someone|911))\b`)
)

// ClassifyReply maps a free-text reply onto affirmative, negative or
// unclear. Anything unclear leaves the confirmation pending: it must not
// advance the state machine or reset the deadline.
func ClassifyReply(reply string) ReplyKind {
	if negativeReply.MatchString(reply) {
		return ReplyNegative
	}
	if affirmativeReply.MatchString(reply) {
		return ReplyAffirmative
	}
	return ReplyUnclear
}
