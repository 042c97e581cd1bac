package enum

type EmailCategory string

const (
	CategoryInterested    EmailCategory = "interested"
	CategoryMeetingBooked EmailCategory = "meeting_booked"
	CategoryNotInterested EmailCategory = "not_interested"
	CategorySpam          EmailCategory = "spam"
	CategoryOutOfOffice   EmailCategory = "out_of_office"
)

var categories = map[EmailCategory]struct{}{
	CategoryInterested:    {},
	CategoryMeetingBooked: {},
	CategoryNotInterested: {},
	CategorySpam:          {},
	CategoryOutOfOffice:   {},
}

func (c EmailCategory) String() string {
	return string(c)
}

func (c EmailCategory) IsValid() bool {
	_, ok := categories[c]
	return ok
}

// ParseEmailCategory accepts the canonical values plus the hyphenated and
// spaced spellings model providers tend to return.
func ParseEmailCategory(s string) (EmailCategory, bool) {
	normalized := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == '-' || r == ' ':
			normalized = append(normalized, '_')
		case r >= 'A' && r <= 'Z':
			normalized = append(normalized, r+('a'-'A'))
		default:
			normalized = append(normalized, r)
		}
	}
	c := EmailCategory(normalized)
	return c, c.IsValid()
}

func AllEmailCategories() []EmailCategory {
	return []EmailCategory{
		CategoryInterested,
		CategoryMeetingBooked,
		CategoryNotInterested,
		CategorySpam,
		CategoryOutOfOffice,
	}
}
