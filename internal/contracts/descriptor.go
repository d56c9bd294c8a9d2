// Package contracts holds the fixed interface of the milestone escrow contract
// and the descriptor that pairs it with a deployed address.
package contracts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid contract address")

// Mutability tells whether invoking a method needs a signed transaction.
type Mutability int

const (
	View Mutability = iota
	StateChanging
)

func (m Mutability) String() string {
	if m == View {
		return "view"
	}
	return "state"
}

// Method describes one callable entry of the remote interface.
type Method struct {
	Name       string
	Inputs     []string
	Outputs    []string
	Mutability Mutability
	Payable    bool
}

// Descriptor is a remote endpoint reference: a contract address plus its
// parsed method table. It is never mutated after NewDescriptor returns.
type Descriptor struct {
	Address common.Address
	ABI     abi.ABI
}

// NewDescriptor parses the escrow ABI and pairs it with address.
func NewDescriptor(address string) (Descriptor, error) {
	return NewDescriptorFromABI(address, MilestoneEscrowABI)
}

func NewDescriptorFromABI(address, abiJSON string) (Descriptor, error) {
	if !common.IsHexAddress(address) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse abi: %w", err)
	}
	return Descriptor{
		Address: common.HexToAddress(address),
		ABI:     parsed,
	}, nil
}

// Method looks up name in the method table. The payable receive entry is
// reported under the name "receive".
func (d Descriptor) Method(name string) (Method, bool) {
	if name == MethodReceive {
		if d.ABI.Receive.Type != abi.Receive {
			return Method{}, false
		}
		return Method{Name: MethodReceive, Mutability: StateChanging, Payable: true}, true
	}
	m, ok := d.ABI.Methods[name]
	if !ok {
		return Method{}, false
	}
	out := Method{
		Name:       m.Name,
		Inputs:     argTypes(m.Inputs),
		Outputs:    argTypes(m.Outputs),
		Mutability: StateChanging,
		Payable:    m.IsPayable(),
	}
	if m.IsConstant() {
		out.Mutability = View
	}
	return out, true
}

// Methods returns every entry of the table in a stable order.
func (d Descriptor) Methods() []Method {
	names := make([]string, 0, len(d.ABI.Methods)+1)
	for name := range d.ABI.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	if d.ABI.Receive.Type == abi.Receive {
		names = append(names, MethodReceive)
	}
	out := make([]Method, 0, len(names))
	for _, name := range names {
		m, _ := d.Method(name)
		out = append(out, m)
	}
	return out
}

func argTypes(args abi.Arguments) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.Type.String()
	}
	return out
}
