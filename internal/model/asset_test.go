package model

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAsset(t *testing.T) {
	cases := map[string]Asset{
		"a":      AssetA,
		" A ":    AssetA,
		"token0": AssetA,
		"Alpha":  AssetA,
		"b":      AssetB,
		"TOKEN1": AssetB,
		"beta":   AssetB,
	}
	for input, want := range cases {
		got, err := ParseAsset(input)
		if err != nil {
			t.Fatalf("parse %q: unexpected error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s, want %s", input, got, want)
		}
	}

	if _, err := ParseAsset("c"); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestAssetOther(t *testing.T) {
	if AssetA.Other() != AssetB || AssetB.Other() != AssetA {
		t.Fatalf("other side mismatch")
	}
	if Asset("").Valid() || !AssetA.Valid() {
		t.Fatalf("validity mismatch")
	}
}

func TestParseAddresses(t *testing.T) {
	addrs, err := ParseAddresses([]string{" 0x00000000000000000000000000000000000000aa", "", "0x00000000000000000000000000000000000000BB"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(addrs))
	}
	if addrs[1] != common.HexToAddress("0xbb") {
		t.Fatalf("unexpected address: %s", addrs[1].Hex())
	}

	if _, err := ParseAddresses([]string{"0x123"}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
