package chaintest

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// RevertError mimics the JSON-RPC error a node returns when gas estimation
// hits a require() failure.
type RevertError struct {
	Reason string
}

func (e RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// ErrorData returns the ABI encoded Error(string) payload, hex encoded.
func (e RevertError) ErrorData() interface{} {
	typ, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: typ}}.Pack(e.Reason)
	return "0x" + hex.EncodeToString(append(append([]byte{}, revertSelector...), packed...))
}
