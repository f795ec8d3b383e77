package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"testing"

	"pointswap/native/exchange"
)

type stubDoer struct {
	status int
	body   string
	reqs   []*http.Request
	bodies []string
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.reqs = append(s.reqs, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(raw))
	} else {
		s.bodies = append(s.bodies, "")
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func testAddr(b byte) exchange.Address {
	addr := exchange.Address{}
	addr[19] = b
	return addr
}

func newTestClient(t *testing.T, doer *stubDoer) *Client {
	t.Helper()
	client, err := New(doer, "https://ledger.internal:8443/", "token", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestBalanceOf(t *testing.T) {
	doer := &stubDoer{body: `{"balance":"123456"}`}
	client := newTestClient(t, doer)
	balance, err := client.BalanceOf(testAddr(0x01))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(123456)) != 0 {
		t.Fatalf("balance = %s", balance)
	}
	req := doer.reqs[0]
	if req.Method != http.MethodGet {
		t.Fatalf("method = %s", req.Method)
	}
	wantPath := "/v1/accounts/0x0000000000000000000000000000000000000001/balance"
	if req.URL.Path != wantPath {
		t.Fatalf("path = %s", req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer token" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestBalanceOfRejectsMalformedBalance(t *testing.T) {
	doer := &stubDoer{body: `{"balance":"not-a-number"}`}
	client := newTestClient(t, doer)
	if _, err := client.BalanceOf(testAddr(0x01)); err == nil {
		t.Fatal("malformed balance accepted")
	}
}

func TestDebitPostsAmount(t *testing.T) {
	doer := &stubDoer{body: `{}`}
	client := newTestClient(t, doer)
	if err := client.Debit(testAddr(0x02), big.NewInt(500)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	req := doer.reqs[0]
	if req.Method != http.MethodPost || req.URL.Path != "/v1/debits" {
		t.Fatalf("request = %s %s", req.Method, req.URL.Path)
	}
	var body struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal([]byte(doer.bodies[0]), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Amount != "500" {
		t.Fatalf("amount = %q", body.Amount)
	}
	if body.Account != "0x0000000000000000000000000000000000000002" {
		t.Fatalf("account = %q", body.Account)
	}
}

func TestRefundUsesRefundPath(t *testing.T) {
	doer := &stubDoer{body: `{}`}
	client := newTestClient(t, doer)
	if err := client.Refund(testAddr(0x03), big.NewInt(42)); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if doer.reqs[0].URL.Path != "/v1/refunds" {
		t.Fatalf("path = %s", doer.reqs[0].URL.Path)
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	doer := &stubDoer{body: `{}`}
	client := newTestClient(t, doer)
	if err := client.Debit(testAddr(0x02), big.NewInt(0)); err == nil {
		t.Fatal("zero amount accepted")
	}
	if len(doer.reqs) != 0 {
		t.Fatal("request issued for invalid amount")
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	doer := &stubDoer{status: http.StatusPaymentRequired, body: `{"error":"insufficient funds"}`}
	client := newTestClient(t, doer)
	if err := client.Debit(testAddr(0x02), big.NewInt(500)); err == nil {
		t.Fatal("error status accepted")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(nil, "  ", "", 0); err == nil {
		t.Fatal("blank endpoint accepted")
	}
}
