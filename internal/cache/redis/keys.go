package redis

import (
	"strings"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

// SessionLockKey names the lock held by the single session trading account
// on side against host.
func SessionLockKey(host, account string, side domain.Side) string {
	return "session:" + host + ":" + account + ":" + side.String()
}

// SubmissionLimitKey names the sliding window that paces account on side.
func SubmissionLimitKey(account string, side domain.Side) string {
	return "submit:" + account + ":" + side.String()
}

// OrdersChannel is the bus channel carrying cycle outcomes for side.
func OrdersChannel(side domain.Side) string {
	return "gflex:orders:" + side.String()
}

// AllOrdersChannels matches the outcome channels of both sides.
const AllOrdersChannels = "gflex:orders:*"

// WSChannel is the bus channel carrying push messages from a websocket
// endpoint path such as "/api/v1/ws/trade/".
func WSChannel(endpoint string) string {
	name := strings.Trim(endpoint, "/")
	name = strings.TrimPrefix(name, "api/v1/ws/")
	return "gflex:ws:" + strings.ReplaceAll(name, "/", ".")
}
