package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const SignatureHeader = "X-Signature"

type RPCClient struct {
	baseURL string
	client  *http.Client
	signer  Signer
}

func NewRPCClient(baseURL string, timeout time.Duration, signer Signer) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		signer:  signer,
	}
}

func (c *RPCClient) BalanceOf(ctx context.Context, account string) (uint64, error) {
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(account) + "/balance"
	var resp balanceResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *RPCClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var resp TransferResult
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/transfers", req, &resp); err != nil {
		return nil, err
	}
	if resp.TxHash == "" {
		return nil, fmt.Errorf("%w: transfer response missing tx hash", ErrNetwork)
	}
	return &resp, nil
}

func (c *RPCClient) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		if c.signer != nil {
			req.Header.Set(SignatureHeader, hex.EncodeToString(c.signer.Sign(body)))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := ErrNetwork
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			class = ErrRejected
		}
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg != "" {
			return fmt.Errorf("%w: ledger http status %d: %s", class, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: ledger http status %d", class, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}
	return nil
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}
