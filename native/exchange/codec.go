package exchange

import "math/big"

// Stored record shapes kept RLP-friendly: unsigned integers, strings, byte
// arrays, and non-nil big integers only.

type amountRecord struct {
	Amount *big.Int
}

type flagRecord struct {
	Set bool
}

type uintRecord struct {
	Value uint64
}

type rateRecord struct {
	Numerator   uint64
	Denominator uint64
}

type treasuryRecord struct {
	Address Address
	Set     bool
}

type statsRecord struct {
	PointsConsumed *big.Int
	AssetPaid      *big.Int
	ExchangeFee    *big.Int
	OperationalFee *big.Int
	Count          uint64
}

type userStoredRecord struct {
	Consumed *big.Int
	Received *big.Int
}

type indexRecord struct {
	Symbols []string
}

type presenceRecord struct {
	Present bool
}

type roundRecord struct {
	Round    PriceRoundData
	Decimals uint8
}

func storedAmount(store Storage, key []byte) (*big.Int, error) {
	var record amountRecord
	ok, err := store.KVGet(key, &record)
	if err != nil {
		return nil, err
	}
	if !ok || record.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Amount), nil
}

func putAmount(store Storage, key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return store.KVPut(key, amountRecord{Amount: new(big.Int).Set(amount)})
}
