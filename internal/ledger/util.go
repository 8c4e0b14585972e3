package ledger

import "strings"

// DefaultFeedEndpoint maps a ledger RPC base URL to its websocket feed.
func DefaultFeedEndpoint(rpc string) string {
	if strings.HasPrefix(rpc, "ws://") || strings.HasPrefix(rpc, "wss://") {
		if strings.HasSuffix(rpc, "/feed") {
			return rpc
		}
		return strings.TrimRight(rpc, "/") + "/feed"
	}
	if strings.HasPrefix(rpc, "https://") {
		return "wss://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "https://") + "/feed"
	}
	if strings.HasPrefix(rpc, "http://") {
		return "ws://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "http://") + "/feed"
	}
	return ""
}
