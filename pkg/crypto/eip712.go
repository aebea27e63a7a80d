package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// This prevents replay attacks across different chains/contracts.
type EIP712Domain struct {
	Name              string         // Settlement contract name
	Version           string         // Contract version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1 for mainnet)
	VerifyingContract common.Address // Settlement contract address
}

// OrderEIP712 is the typed-data shape of a domain.Order that a trader signs
// in their wallet. Field names and casing mirror what eth_signTypedData_v4
// expects: camelCase keys, decimal-string uint256s.
type OrderEIP712 struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           [32]byte
	FeeAmount         *big.Int
	Kind              string // "sell" or "buy"
	PartiallyFillable bool
	SellTokenBalance  string // "erc20", "internal", "external"
	BuyTokenBalance   string // "erc20", "internal"
}

// OrderEIP712FromDomain builds the typed-data order a trader must have
// signed to produce order.Signature, from the order itself.
func OrderEIP712FromDomain(order domain.Order) OrderEIP712 {
	sellBalance := "erc20"
	switch order.SellSource {
	case domain.SellSourceInternal:
		sellBalance = "internal"
	case domain.SellSourceExternal:
		sellBalance = "external"
	}
	buyBalance := "erc20"
	if order.BuyDestination == domain.BuyDestinationInternal {
		buyBalance = "internal"
	}

	return OrderEIP712{
		SellToken:         order.SellToken,
		BuyToken:          order.BuyToken,
		Receiver:          order.Owner(),
		SellAmount:        order.SellAmount,
		BuyAmount:         order.BuyAmount,
		ValidTo:           order.ValidTo,
		AppData:           order.AppData,
		FeeAmount:         order.FeeAmount,
		Kind:              order.Side.String(),
		PartiallyFillable: order.Partial.Fillable,
		SellTokenBalance:  sellBalance,
		BuyTokenBalance:   buyBalance,
	}
}

// EIP712Signer hashes, signs, and verifies typed-data orders under one
// domain separator.
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain.
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the mainnet settlement-contract domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "BatchSettlement",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

var orderEIP712Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

func (e *EIP712Signer) domainMap() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

func orderMessage(order OrderEIP712) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sellToken":         order.SellToken.Hex(),
		"buyToken":          order.BuyToken.Hex(),
		"receiver":          order.Receiver.Hex(),
		"sellAmount":        order.SellAmount.String(),
		"buyAmount":         order.BuyAmount.String(),
		"validTo":           fmt.Sprintf("%d", order.ValidTo),
		"appData":           fmt.Sprintf("0x%x", order.AppData),
		"feeAmount":         order.FeeAmount.String(),
		"kind":              order.Kind,
		"partiallyFillable": order.PartiallyFillable,
		"sellTokenBalance":  order.SellTokenBalance,
		"buyTokenBalance":   order.BuyTokenBalance,
	}
}

// HashOrder hashes an order according to EIP-712 and returns the digest
// that should be signed: keccak256("\x19\x01" || domainSeparator || structHash).
func (e *EIP712Signer) HashOrder(order OrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderEIP712Types,
		PrimaryType: "Order",
		Domain:      e.domainMap(),
		Message:     orderMessage(order),
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignOrder signs an order and returns the signature.
func (e *EIP712Signer) SignOrder(signer *Signer, order OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}

	return signature, nil
}

// VerifyOrderSignature verifies that signature was produced by owner over
// order under this domain.
func (e *EIP712Signer) VerifyOrderSignature(order OrderEIP712, owner common.Address, signature []byte) (bool, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return false, fmt.Errorf("failed to hash order: %w", err)
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}

	return recoveredAddr == owner, nil
}

// RecoverOrderSigner recovers the address that signed an order, useful for
// deriving an owner from a signature alone.
func (e *EIP712Signer) RecoverOrderSigner(order OrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}

	return RecoverAddress(hash, signature)
}

// OrderToJSON converts an order to the typed-data JSON shape wallets expect
// for eth_signTypedData_v4.
func (e *EIP712Signer) OrderToJSON(order OrderEIP712) (string, error) {
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"Order": []map[string]string{
				{"name": "sellToken", "type": "address"},
				{"name": "buyToken", "type": "address"},
				{"name": "receiver", "type": "address"},
				{"name": "sellAmount", "type": "uint256"},
				{"name": "buyAmount", "type": "uint256"},
				{"name": "validTo", "type": "uint32"},
				{"name": "appData", "type": "bytes32"},
				{"name": "feeAmount", "type": "uint256"},
				{"name": "kind", "type": "string"},
				{"name": "partiallyFillable", "type": "bool"},
				{"name": "sellTokenBalance", "type": "string"},
				{"name": "buyTokenBalance", "type": "string"},
			},
		},
		"primaryType": "Order",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"sellToken":         order.SellToken.Hex(),
			"buyToken":          order.BuyToken.Hex(),
			"receiver":          order.Receiver.Hex(),
			"sellAmount":        order.SellAmount.String(),
			"buyAmount":         order.BuyAmount.String(),
			"validTo":           order.ValidTo,
			"appData":           fmt.Sprintf("0x%x", order.AppData),
			"feeAmount":         order.FeeAmount.String(),
			"kind":              order.Kind,
			"partiallyFillable": order.PartiallyFillable,
			"sellTokenBalance":  order.SellTokenBalance,
			"buyTokenBalance":   order.BuyTokenBalance,
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(jsonBytes), nil
}

// CancelEIP712 is the typed-data shape of an off-chain order cancellation.
type CancelEIP712 struct {
	OrderUid string
	Owner    common.Address
}

var cancelEIP712Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"OrderCancellation": []apitypes.Type{
		{Name: "orderUid", Type: "bytes"},
	},
}

// HashCancel hashes a cancellation request and returns the digest that
// should be signed.
func (e *EIP712Signer) HashCancel(cancel CancelEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       cancelEIP712Types,
		PrimaryType: "OrderCancellation",
		Domain:      e.domainMap(),
		Message: apitypes.TypedDataMessage{
			"orderUid": cancel.OrderUid,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// VerifyCancelSignature verifies that signature was produced by owner over
// a cancellation of the order identified by cancel.OrderUid.
func (e *EIP712Signer) VerifyCancelSignature(cancel CancelEIP712, signature []byte) (bool, error) {
	hash, err := e.HashCancel(cancel)
	if err != nil {
		return false, fmt.Errorf("failed to hash cancel: %w", err)
	}

	recoveredAddr, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}

	return recoveredAddr == cancel.Owner, nil
}
