package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

// TransferEvent is a committed-transfer notification from the ledger feed.
type TransferEvent struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight uint64 `json:"block_height"`
	Status      string `json:"status"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      uint64 `json:"amount"`
}

type FeedClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewFeedClient(endpoint string) *FeedClient {
	return &FeedClient{Endpoint: endpoint}
}

func (c *FeedClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *FeedClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *FeedClient) Subscribe(topic string) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params": map[string]any{
			"topic": topic,
		},
	}
	return c.Conn.WriteJSON(payload)
}

func (c *FeedClient) Read() ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// ParseTransferEvent decodes one feed message. ok is false for messages that
// carry no transfer, such as the subscription acknowledgement.
func ParseTransferEvent(msg []byte) (*TransferEvent, bool, error) {
	var env struct {
		Result struct {
			Data json.RawMessage `json:"data"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != nil {
		return nil, false, errors.New(env.Error.Message)
	}
	if len(env.Result.Data) == 0 {
		return nil, false, nil
	}

	var data struct {
		Type string `json:"type"`
		TransferEvent
	}
	if err := json.Unmarshal(env.Result.Data, &data); err != nil {
		return nil, false, err
	}
	if data.Type != "transfer" {
		return nil, false, nil
	}
	ev := data.TransferEvent
	ev.TxHash = strings.TrimSpace(ev.TxHash)
	if ev.TxHash == "" {
		return nil, false, nil
	}
	return &ev, true, nil
}
