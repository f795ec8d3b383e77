package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestMulDivFullWidth(t *testing.T) {
	// amount * numerator overflows 256 bits only if computed naively on
	// fixed-width words; the full-width product must survive.
	amount := new(big.Int).Exp(big.NewInt(2), big.NewInt(200), nil)
	got, err := MulDiv(amount, 10000, 10000)
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Cmp(amount) != 0 {
		t.Fatalf("identity muldiv = %s, want %s", got, amount)
	}
	if _, err := MulDiv(big.NewInt(1), 1, 0); err == nil {
		t.Fatal("division by zero accepted")
	}
	got, err = MulDiv(big.NewInt(999), 1, 1000)
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("floor division = %s, want 0", got)
	}
}

func TestComputeFeesSameGross(t *testing.T) {
	gross := big.NewInt(1_000_000)
	exchangeFee, operationalFee, net, err := ComputeFees(gross, 100, 50)
	if err != nil {
		t.Fatalf("compute fees: %v", err)
	}
	if exchangeFee.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("exchange fee = %s", exchangeFee)
	}
	if operationalFee.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("operational fee = %s", operationalFee)
	}
	if net.Cmp(big.NewInt(985_000)) != 0 {
		t.Fatalf("net = %s", net)
	}
}

func TestComputeFeesBounds(t *testing.T) {
	if _, _, _, err := ComputeFees(big.NewInt(100), 9000, 1001); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("combined over 100%%: %v", err)
	}
	// Exactly 100% is permitted and nets to zero.
	_, _, net, err := ComputeFees(big.NewInt(100), 9000, 1000)
	if err != nil {
		t.Fatalf("combined at 100%%: %v", err)
	}
	if net.Sign() != 0 {
		t.Fatalf("net = %s, want 0", net)
	}
	if _, _, _, err := ComputeFees(nil, 0, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil gross: %v", err)
	}
	exchangeFee, operationalFee, net, err := ComputeFees(big.NewInt(0), 100, 50)
	if err != nil {
		t.Fatalf("zero gross: %v", err)
	}
	if exchangeFee.Sign() != 0 || operationalFee.Sign() != 0 || net.Sign() != 0 {
		t.Fatal("zero gross produced non-zero outputs")
	}
}

func TestConfigureOperationalFeeValidation(t *testing.T) {
	env := newTestEnv(t)
	env.configureAsset(t, "WETH", 100, e18(3000), e18(1), e18(10))
	recipient := testAddr(0xFE)
	// Above the global max fee.
	if err := env.engine.UpdateMaxFee(env.admin, 500); err != nil {
		t.Fatalf("update max fee: %v", err)
	}
	if err := env.engine.ConfigureOperationalFee(env.admin, "WETH", 600, recipient, true); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("operational fee above max: %v", err)
	}
	// Above the absolute operational cap.
	if err := env.engine.UpdateMaxFee(env.admin, 5000); err != nil {
		t.Fatalf("update max fee: %v", err)
	}
	if err := env.engine.ConfigureOperationalFee(env.admin, "WETH", OperationalFeeCapBps+1, recipient, true); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("operational fee above cap: %v", err)
	}
	// Unknown asset.
	if err := env.engine.ConfigureOperationalFee(env.admin, "NOPE", 50, recipient, true); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("unknown asset: %v", err)
	}
	// Valid configuration persists.
	if err := env.engine.ConfigureOperationalFee(env.admin, "WETH", 50, recipient, true); err != nil {
		t.Fatalf("configure: %v", err)
	}
	cfg, ok, err := env.engine.OperationalFee("WETH")
	if err != nil || !ok {
		t.Fatalf("load config: ok=%v err=%v", ok, err)
	}
	if cfg.Bps != 50 || cfg.Recipient != recipient || !cfg.Enabled {
		t.Fatalf("config %+v", cfg)
	}
}

func TestWithdrawOperationalFee(t *testing.T) {
	env := newTestEnv(t)
	env.configureAsset(t, "USDC", 100, e18(1), e18(1), e18(1000))
	recipient := testAddr(0xFE)
	if err := env.engine.ConfigureOperationalFee(env.admin, "USDC", 50, recipient, true); err != nil {
		t.Fatalf("configure: %v", err)
	}
	user := testAddr(0x01)
	env.ledger.credit(user, e18(100))
	if _, err := env.engine.Execute(context.Background(), user, "USDC", e18(100), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	accrued, _ := env.engine.AccruedOperationalFee("USDC")
	if accrued.Sign() <= 0 {
		t.Fatalf("accrued = %s", accrued)
	}
	// Zero withdraws everything to the recipient.
	paid, err := env.engine.WithdrawOperationalFee(env.admin, "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(accrued) != 0 {
		t.Fatalf("paid %s, want %s", paid, accrued)
	}
	last := env.transferor.transfers[len(env.transferor.transfers)-1]
	if last.to != recipient || last.amount.Cmp(accrued) != 0 {
		t.Fatalf("payout %s to %x", last.amount, last.to)
	}
	remaining, _ := env.engine.AccruedOperationalFee("USDC")
	if remaining.Sign() != 0 {
		t.Fatalf("remaining accrual %s", remaining)
	}
	// Nothing left to withdraw.
	if _, err := env.engine.WithdrawOperationalFee(env.admin, "USDC", big.NewInt(0)); err == nil {
		t.Fatal("withdraw from empty accrual succeeded")
	}
}
