package exchange

import (
	"encoding/hex"
	"time"
)

// Storage abstracts the key-value state access required by the engine. Values
// are encoded by the backing store; implementations must return found=false
// rather than an error for missing keys.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	tokenPrefix       = []byte("exchange/token/")
	tokenIndexKey     = []byte("exchange/token/index")
	opFeePrefix       = []byte("exchange/opfee/")
	feeAccrualPrefix  = []byte("exchange/feeacc/")
	poolPrefix        = []byte("exchange/pool/")
	statsPrefix       = []byte("exchange/stats/")
	userPrefix        = []byte("exchange/user/")
	roundPrefix       = []byte("exchange/round/")
	whitelistPrefix   = []byte("exchange/whitelist/")
	rolePrefix        = []byte("exchange/role/")
	roleCountPrefix   = []byte("exchange/rolecount/")
	noncePrefix       = []byte("exchange/nonce/")
	dailyPrefix       = []byte("exchange/daily/")
	accessModeKey     = []byte("exchange/params/mode")
	rateConfigKey     = []byte("exchange/params/rate")
	maxFeeKey         = []byte("exchange/params/maxfee")
	dailyLimitKey     = []byte("exchange/params/dailylimit")
	pausedKey         = []byte("exchange/params/paused")
	treasuryKey       = []byte("exchange/params/treasury")
)

func joinKey(prefix []byte, parts ...string) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for i, part := range parts {
		if i > 0 {
			key = append(key, '/')
		}
		key = append(key, part...)
	}
	return key
}

func tokenKey(symbol string) []byte {
	return joinKey(tokenPrefix, normaliseSymbol(symbol))
}

func opFeeKey(symbol string) []byte {
	return joinKey(opFeePrefix, normaliseSymbol(symbol))
}

func feeAccrualKey(symbol string) []byte {
	return joinKey(feeAccrualPrefix, normaliseSymbol(symbol))
}

func poolKey(symbol string) []byte {
	return joinKey(poolPrefix, normaliseSymbol(symbol))
}

func statsKey(symbol string) []byte {
	return joinKey(statsPrefix, normaliseSymbol(symbol))
}

func userKey(addr Address, symbol string) []byte {
	return joinKey(userPrefix, hex.EncodeToString(addr[:]), normaliseSymbol(symbol))
}

func roundKey(symbol string) []byte {
	return joinKey(roundPrefix, normaliseSymbol(symbol))
}

func whitelistKey(addr Address) []byte {
	return joinKey(whitelistPrefix, hex.EncodeToString(addr[:]))
}

func roleKey(role string, addr Address) []byte {
	return joinKey(rolePrefix, role, hex.EncodeToString(addr[:]))
}

func roleCountKey(role string) []byte {
	return joinKey(roleCountPrefix, role)
}

func nonceKey(owner Address, nonce []byte) []byte {
	return joinKey(noncePrefix, hex.EncodeToString(owner[:]), hex.EncodeToString(nonce))
}

func dailyKey(day time.Time, addr Address) []byte {
	return joinKey(dailyPrefix, day.UTC().Format("2006-01-02"), hex.EncodeToString(addr[:]))
}
