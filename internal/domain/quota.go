package domain

import "strconv"

// Unlimited is the remaining quota of an uncapped requester.
const Unlimited = -1

type QuotaType string

const (
	QuotaNone     QuotaType = "none"
	QuotaCount    QuotaType = "count"
	QuotaDuration QuotaType = "duration"
)

func (t QuotaType) Valid() bool {
	switch t {
	case QuotaNone, QuotaCount, QuotaDuration:
		return true
	}
	return false
}

func ParseQuotaType(s string) (QuotaType, error) {
	t := QuotaType(s)
	if !t.Valid() {
		return "", NewValidationError("quota.type", "unknown quota type "+strconv.Quote(s))
	}
	return t, nil
}
