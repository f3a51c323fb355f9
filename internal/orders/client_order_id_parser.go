package orders

import (
	"regexp"
	"strconv"
	"strings"
)

// clientOrderIDRegex matches FA-TYPE-16HEX-RN after uppercasing
var clientOrderIDRegex = regexp.MustCompile(`^FA-([A-Z]{1,2})-([A-F0-9]{16})-R(\d{1,4})$`)

// ParseClientOrderID parses an agent client order ID.
// Returns nil if not our format (manual or foreign orders).
func ParseClientOrderID(raw string) *ClientOrderID {
	if raw == "" {
		return nil
	}
	matches := clientOrderIDRegex.FindStringSubmatch(strings.ToUpper(raw))
	if matches == nil {
		return nil
	}

	orderType := OrderType(matches[1])
	if validateOrderType(orderType) != nil {
		return nil
	}
	rev, err := strconv.Atoi(matches[3])
	if err != nil {
		return nil
	}
	return &ClientOrderID{
		Type:     orderType,
		Chain:    strings.ToLower(matches[2]),
		Revision: rev,
	}
}

// IsAgentOrder reports whether raw was placed by this agent
func IsAgentOrder(raw string) bool {
	return ParseClientOrderID(raw) != nil
}
