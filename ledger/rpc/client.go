package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/thedevsaddam/gojsonq/v2"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/ledger"
)

// JSON-RPC error codes the ledger uses for transactions it will never accept.
var rejectCodes = map[float64]bool{
	-32002: true, // transaction simulation failed
	-32003: true, // signature verification failed
	-32602: true, // invalid params
}

// Client talks JSON-RPC 2.0 to a ledger node.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   int64
}

func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// call performs a JSON-RPC request and returns the response body.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (string, error) {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerrors.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", xerrors.Errorf("%s: reading response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("%s: node responded %s", method, resp.Status)
	}

	res := string(b)
	jq := gojsonq.New().FromString(res)
	if jq.Error() != nil {
		return "", xerrors.Errorf("%s: malformed response: %w", method, jq.Error())
	}
	if rpcErr := jq.Copy().Find("error"); rpcErr != nil {
		code, _ := jq.Copy().Find("error.code").(float64)
		msg, _ := jq.Copy().Find("error.message").(string)
		if rejectCodes[code] {
			return "", xerrors.Errorf("%s: %s (%v): %w", method, msg, code, ledger.ErrRejected)
		}
		return "", xerrors.Errorf("%s: %s (%v)", method, msg, code)
	}
	return res, nil
}

func (c *Client) Send(ctx context.Context, t ledger.Transfer) (string, error) {
	res, err := c.call(ctx, "submitTransfer", map[string]interface{}{
		"from":      t.From,
		"to":        t.To,
		"amount":    t.Amount,
		"memo":      t.Memo,
		"reference": t.Reference,
	})
	if err != nil {
		return "", err
	}
	sig, ok := gojsonq.New().FromString(res).Find("result").(string)
	if !ok || sig == "" {
		return "", xerrors.Errorf("submitTransfer: no signature in response")
	}
	return sig, nil
}

func (c *Client) Status(ctx context.Context, signature string) (ledger.TxStatus, error) {
	res, err := c.call(ctx, "getSignatureStatuses", []string{signature}, map[string]bool{"searchTransactionHistory": true})
	if err != nil {
		return ledger.TxStatus{}, err
	}
	jq := gojsonq.New().FromString(res)
	if jq.Copy().Find("result.value.[0]") == nil {
		return ledger.TxStatus{}, nil
	}

	status := ledger.TxStatus{Found: true}
	if confirmations, ok := jq.Copy().Find("result.value.[0].confirmations").(float64); ok {
		status.Confirmations = uint64(confirmations)
	} else if jq.Copy().Find("result.value.[0].confirmationStatus") == "finalized" {
		// finalized transactions report no confirmation count
		status.Confirmations = ^uint64(0)
	}
	if txErr := jq.Copy().Find("result.value.[0].err"); txErr != nil {
		status.Failed = true
		status.Err = fmt.Sprint(txErr)
		return status, nil
	}

	res, err = c.call(ctx, "getTransaction", signature, map[string]string{"encoding": "jsonParsed"})
	if err != nil {
		return ledger.TxStatus{}, err
	}
	info := "result.transaction.message.instructions.[0].parsed.info"
	jq = gojsonq.New().FromString(res)
	amount, _ := jq.Copy().Find(info + ".lamports").(float64)
	status.Amount = uint64(amount)
	status.Sender, _ = jq.Copy().Find(info + ".source").(string)
	status.Recipient, _ = jq.Copy().Find(info + ".destination").(string)
	return status, nil
}

func (c *Client) Balance(ctx context.Context, account string) (uint64, error) {
	res, err := c.call(ctx, "getBalance", account)
	if err != nil {
		return 0, err
	}
	balance, ok := gojsonq.New().FromString(res).Find("result.value").(float64)
	if !ok {
		return 0, xerrors.Errorf("getBalance: no value in response")
	}
	return uint64(balance), nil
}

var _ ledger.Chain = (*Client)(nil)
