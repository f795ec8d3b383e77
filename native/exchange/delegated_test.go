package exchange

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func delegatedEnv(t *testing.T) (*testEnv, *ecdsa.PrivateKey, Address) {
	env := newTestEnv(t)
	env.configureAsset(t, "USDC", 0, e18(1), e18(1), e18(10000))
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var owner Address
	copy(owner[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	env.ledger.credit(owner, e18(1000))
	return env, key, owner
}

func signAuth(t *testing.T, auth *Authorization, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	digest := auth.Hash()
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestExecuteWithAuthorization(t *testing.T) {
	env, key, owner := delegatedEnv(t)
	relayer := testAddr(0xBB)
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(100),
		MinOut:      big.NewInt(0),
		Nonce:       []byte("nonce-1"),
		Expiry:      env.now.Add(10 * time.Minute).Unix(),
	}
	sig := signAuth(t, auth, key)
	receipt, err := env.engine.ExecuteWithAuthorization(context.Background(), relayer, auth, sig)
	if err != nil {
		t.Fatalf("delegated execute: %v", err)
	}
	if !receipt.Delegated {
		t.Fatal("receipt not marked delegated")
	}
	if receipt.Owner != owner || receipt.Relayer != relayer {
		t.Fatalf("receipt parties owner=%x relayer=%x", receipt.Owner, receipt.Relayer)
	}
	// The owner's balance was debited and the payout went to the owner,
	// not the relayer.
	balance, _ := env.ledger.BalanceOf(owner)
	if balance.Cmp(e18(900)) != 0 {
		t.Fatalf("owner balance %s", balance)
	}
	out := env.transferor.transfers[len(env.transferor.transfers)-1]
	if out.to != owner {
		t.Fatalf("payout went to %x", out.to)
	}
	used, _ := env.engine.NonceUsed(owner, auth.Nonce)
	if !used {
		t.Fatal("nonce not recorded")
	}
}

func TestAuthorizationReplayRejected(t *testing.T) {
	env, key, owner := delegatedEnv(t)
	relayer := testAddr(0xBB)
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(10),
		Nonce:       []byte("nonce-replay"),
		Expiry:      env.now.Add(10 * time.Minute).Unix(),
	}
	sig := signAuth(t, auth, key)
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), relayer, auth, sig); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), relayer, auth, sig); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("replay: %v", err)
	}
}

func TestAuthorizationExpiry(t *testing.T) {
	env, key, owner := delegatedEnv(t)
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(10),
		Nonce:       []byte("nonce-exp"),
		Expiry:      env.now.Add(-time.Second).Unix(),
	}
	sig := signAuth(t, auth, key)
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), testAddr(0xBB), auth, sig); !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("expired authorization: %v", err)
	}
}

func TestAuthorizationSignerMismatch(t *testing.T) {
	env, _, owner := delegatedEnv(t)
	otherKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(10),
		Nonce:       []byte("nonce-mismatch"),
		Expiry:      env.now.Add(10 * time.Minute).Unix(),
	}
	sig := signAuth(t, auth, otherKey)
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), testAddr(0xBB), auth, sig); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("mismatched signer: %v", err)
	}
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), testAddr(0xBB), auth, []byte("short")); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("malformed signature: %v", err)
	}
}

func TestAuthorizationTamperedFieldFailsRecovery(t *testing.T) {
	env, key, owner := delegatedEnv(t)
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(10),
		Nonce:       []byte("nonce-tamper"),
		Expiry:      env.now.Add(10 * time.Minute).Unix(),
	}
	sig := signAuth(t, auth, key)
	auth.PointAmount = e18(999)
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), testAddr(0xBB), auth, sig); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("tampered amount: %v", err)
	}
}

func TestDelegatedGatingAppliesToOwner(t *testing.T) {
	env, key, owner := delegatedEnv(t)
	relayer := testAddr(0xBB)
	if err := env.engine.SetAccessMode(env.admin, AccessWhitelist); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	auth := &Authorization{
		Owner:       owner,
		Symbol:      "USDC",
		PointAmount: e18(10),
		Nonce:       []byte("nonce-gate"),
		Expiry:      env.now.Add(10 * time.Minute).Unix(),
	}
	sig := signAuth(t, auth, key)
	// Owner not whitelisted: rejected regardless of the relayer.
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), relayer, auth, sig); !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("unlisted owner: %v", err)
	}
	// Whitelisting only the owner is enough; the relayer stays unlisted.
	if err := env.engine.UpdateWhitelist(env.admin, []Address{owner}, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	auth.Nonce = []byte("nonce-gate-2")
	sig = signAuth(t, auth, key)
	if _, err := env.engine.ExecuteWithAuthorization(context.Background(), relayer, auth, sig); err != nil {
		t.Fatalf("delegated execute: %v", err)
	}
	// The owner's daily volume is charged, not the relayer's.
	used, _ := env.engine.DailyVolume(owner)
	if used.Cmp(e18(10)) != 0 {
		t.Fatalf("owner daily volume %s", used)
	}
	relayerUsed, _ := env.engine.DailyVolume(relayer)
	if relayerUsed.Sign() != 0 {
		t.Fatalf("relayer daily volume %s", relayerUsed)
	}
}
