package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowbatch/autopilot/pkg/domain"
)

func buildTestOrder(owner common.Address) domain.Order {
	uid := domain.NewOrderUid([32]byte{7}, owner, 1000)
	return domain.Order{
		Uid:        uid,
		SellToken:  common.HexToAddress("0xaa"),
		BuyToken:   common.HexToAddress("0xbb"),
		SellAmount: big.NewInt(1000),
		BuyAmount:  big.NewInt(900),
		FeeAmount:  big.NewInt(1),
		Side:       domain.Sell,
		Kind:       domain.KindLimit,
		ValidTo:    1000,
	}
}

func TestOrderSignRoundTrips(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	order := OrderEIP712FromDomain(buildTestOrder(signer.Address()))
	eip712 := NewEIP712Signer(DefaultDomain())

	sig, err := eip712.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	ok, err := eip712.VerifyOrderSignature(order, signer.Address(), sig)
	if err != nil {
		t.Fatalf("VerifyOrderSignature: %v", err)
	}
	if !ok {
		t.Error("signature did not verify against its own signer")
	}

	recovered, err := eip712.RecoverOrderSigner(order, sig)
	if err != nil {
		t.Fatalf("RecoverOrderSigner: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestOrderSignRejectsTamperedOrder(t *testing.T) {
	signer, _ := GenerateKey()
	order := OrderEIP712FromDomain(buildTestOrder(signer.Address()))
	eip712 := NewEIP712Signer(DefaultDomain())

	sig, err := eip712.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	tampered := order
	tampered.SellAmount = big.NewInt(999999)

	ok, err := eip712.VerifyOrderSignature(tampered, signer.Address(), sig)
	if err != nil {
		t.Fatalf("VerifyOrderSignature: %v", err)
	}
	if ok {
		t.Error("signature should not verify after the order amount was tampered with")
	}
}

func TestCancelSignRoundTrips(t *testing.T) {
	signer, _ := GenerateKey()
	eip712 := NewEIP712Signer(DefaultDomain())

	cancel := CancelEIP712{OrderUid: "0xdeadbeef", Owner: signer.Address()}
	sig, err := func() ([]byte, error) {
		hash, err := eip712.HashCancel(cancel)
		if err != nil {
			return nil, err
		}
		return signer.Sign(hash)
	}()
	if err != nil {
		t.Fatalf("sign cancellation: %v", err)
	}

	ok, err := eip712.VerifyCancelSignature(cancel, sig)
	if err != nil {
		t.Fatalf("VerifyCancelSignature: %v", err)
	}
	if !ok {
		t.Error("cancellation signature did not verify")
	}
}

func TestOrderToJSONIncludesCoreFields(t *testing.T) {
	signer, _ := GenerateKey()
	order := OrderEIP712FromDomain(buildTestOrder(signer.Address()))
	eip712 := NewEIP712Signer(DefaultDomain())

	out, err := eip712.OrderToJSON(order)
	if err != nil {
		t.Fatalf("OrderToJSON: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty typed-data JSON")
	}
}
