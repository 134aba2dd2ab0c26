package engine

import (
	"fmt"
	"strings"
)

// StatusMatcher compares status names exactly after trimming surrounding
// space. Aliases map alternative spellings (for example look-alike Unicode
// characters) onto a canonical name before comparison; nothing else is
// normalized.
type StatusMatcher struct {
	target  string
	aliases map[string]string
}

func NewStatusMatcher(target string, aliases map[string]string) StatusMatcher {
	m := StatusMatcher{aliases: aliases}
	m.target = m.Canonical(target)
	return m
}

// Canonical trims a status name and resolves it through the alias table.
func (m StatusMatcher) Canonical(status string) string {
	status = strings.TrimSpace(status)
	if c, ok := m.aliases[status]; ok {
		return c
	}
	return status
}

func (m StatusMatcher) Target() string { return m.target }

func (m StatusMatcher) Match(status string) bool {
	return m.Canonical(status) == m.target
}

// OpenIntervalPolicy decides where an interval without a closing event ends.
type OpenIntervalPolicy string

const (
	// CloseAtPeriodEnd ends open intervals at the end of the latest valid period.
	CloseAtPeriodEnd OpenIntervalPolicy = "period_end"
	// CloseAtNow ends open intervals at the report generation instant.
	CloseAtNow OpenIntervalPolicy = "now"
)

func ParseOpenIntervalPolicy(s string) (OpenIntervalPolicy, error) {
	switch OpenIntervalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CloseAtPeriodEnd:
		return CloseAtPeriodEnd, nil
	case CloseAtNow:
		return CloseAtNow, nil
	default:
		return "", fmt.Errorf("invalid open interval policy %q (want period_end or now)", s)
	}
}

// RowOrder selects how rows are sorted inside a period table.
type RowOrder string

const (
	OrderByKey      RowOrder = "key"
	OrderByAssignee RowOrder = "assignee"
	OrderByName     RowOrder = "name"
)

func ParseRowOrder(s string) (RowOrder, error) {
	switch RowOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderByKey:
		return OrderByKey, nil
	case OrderByAssignee:
		return OrderByAssignee, nil
	case OrderByName:
		return OrderByName, nil
	default:
		return "", fmt.Errorf("invalid row order %q (want key, assignee or name)", s)
	}
}
