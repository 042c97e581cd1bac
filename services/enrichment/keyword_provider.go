package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/utils"
)

const keywordProviderConcurrency = 10

type keywordRule struct {
	category   enum.EmailCategory
	confidence float64
	phrases    []string
}

// rules are evaluated in order; "not interested" must be checked before
// "interested" since the latter is a substring of the former.
var keywordRules = []keywordRule{
	{enum.CategoryOutOfOffice, 0.9, []string{
		"out of office", "out of the office", "automatic reply", "auto-reply", "autoreply",
		"on vacation", "on annual leave", "away from the office", "limited access to email",
	}},
	{enum.CategoryMeetingBooked, 0.85, []string{
		"meeting booked", "meeting confirmed", "invitation:", "accepted:", "calendar invite",
		"see you on", "booked a meeting", "scheduled a call", "new event:",
	}},
	{enum.CategoryNotInterested, 0.8, []string{
		"not interested", "no thanks", "no, thanks", "remove me", "unsubscribe me",
		"stop emailing", "please stop", "not a fit", "we already have", "not looking",
	}},
	{enum.CategorySpam, 0.75, []string{
		"you have won", "winner", "lottery", "crypto giveaway", "wire transfer",
		"claim your prize", "100% free", "act now", "limited time offer", "viagra",
	}},
	{enum.CategoryInterested, 0.8, []string{
		"interested", "sounds good", "tell me more", "let's talk", "lets talk", "love to learn",
		"would love to", "schedule a call", "book a call", "send me more", "pricing",
		"what are your rates", "happy to chat", "set up a time",
	}},
}

// keywordProvider is a cheap offline heuristic, used when no model service
// is configured.
type keywordProvider struct{}

func NewKeywordProvider() *keywordProvider {
	return &keywordProvider{}
}

func (p *keywordProvider) Name() string {
	return "keyword"
}

func (p *keywordProvider) Concurrency() int {
	return keywordProviderConcurrency
}

func (p *keywordProvider) Classify(ctx context.Context, request dto.EnrichmentRequest) (*dto.ProviderClassification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := strings.ToLower(utils.NormalizeEmailSubject(request.Subject))
	body := strings.ToLower(request.BodyExcerpt)

	for _, rule := range keywordRules {
		for _, phrase := range rule.phrases {
			inSubject := strings.Contains(subject, phrase)
			if inSubject || strings.Contains(body, phrase) {
				confidence := rule.confidence
				if inSubject {
					confidence = min(confidence+0.05, 0.95)
				}
				return &dto.ProviderClassification{
					Category:   rule.category.String(),
					Confidence: confidence,
					Rationale:  fmt.Sprintf("matched %q", phrase),
				}, nil
			}
		}
	}

	return &dto.ProviderClassification{
		Category:   enum.CategoryNotInterested.String(),
		Confidence: 0.5,
		Rationale:  "no signal phrases found",
	}, nil
}

func (p *keywordProvider) SuggestReply(ctx context.Context, request dto.EnrichmentRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := senderFirstName(request.From)
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", name)
	} else {
		b.WriteString("Hi,\n\n")
	}
	b.WriteString("Thanks for getting back to me, great to hear you're interested.")
	if request.Agenda != "" {
		fmt.Fprintf(&b, " %s", strings.TrimSpace(request.Agenda))
	} else {
		b.WriteString(" Would you have 20 minutes this week for a quick call?")
	}
	b.WriteString("\n\nBest regards")
	return b.String(), nil
}

func senderFirstName(from string) string {
	if i := strings.Index(from, "<"); i > 0 {
		fields := strings.Fields(strings.Trim(from[:i], ` "`))
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
