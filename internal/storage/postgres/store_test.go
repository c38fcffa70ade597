package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"poolscope/internal/model"
)

func TestNumericConversions(t *testing.T) {
	maxValue := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	for _, input := range []string{"0", "1", "1000000000000000000", maxValue} {
		arg, err := numericArg(input)
		if err != nil {
			t.Fatalf("numericArg(%q): %v", input, err)
		}
		got, err := numericString(arg)
		if err != nil {
			t.Fatalf("numericString(%q): %v", input, err)
		}
		if got != input {
			t.Fatalf("round-trip mismatch: %s != %s", got, input)
		}
	}

	if _, err := numericArg("-5"); err == nil {
		t.Fatalf("expected error for negative value")
	}
	if _, err := numericArg("1.5"); err == nil {
		t.Fatalf("expected error for fractional value")
	}
}

func TestNumericStringNormalizesExponent(t *testing.T) {
	got, err := numericString(pgtype.Numeric{Int: big.NewInt(15), Exp: 3, Valid: true})
	if err != nil || got != "15000" {
		t.Fatalf("positive exponent: got %q err=%v", got, err)
	}

	got, err = numericString(pgtype.Numeric{Int: big.NewInt(1500), Exp: -2, Valid: true})
	if err != nil || got != "15" {
		t.Fatalf("negative exponent: got %q err=%v", got, err)
	}

	if _, err := numericString(pgtype.Numeric{Int: big.NewInt(1501), Exp: -2, Valid: true}); err == nil {
		t.Fatalf("expected error for fractional numeric")
	}
	if _, err := numericString(pgtype.Numeric{}); err == nil {
		t.Fatalf("expected error for null numeric")
	}
	if _, err := numericString(pgtype.Numeric{NaN: true, Valid: true, Int: big.NewInt(0)}); err == nil {
		t.Fatalf("expected error for NaN")
	}
}

func TestNewStoreValidates(t *testing.T) {
	if _, err := NewStore(context.Background(), "", "main"); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewStore(context.Background(), "postgres://localhost/pool", ""); err == nil {
		t.Fatalf("expected error for empty pool name")
	}
}

func TestPlanCheckpointsAppendsOnlyNewRows(t *testing.T) {
	history := func(n int) []model.CheckpointRecord {
		out := make([]model.CheckpointRecord, n)
		for i := range out {
			out[i] = model.CheckpointRecord{Timestamp: int64(100 + i), Balance: "1"}
		}
		return out
	}
	holders := []model.HolderRecord{
		{Address: "0xaa", History: history(3)},
		{Address: "0xbb", History: history(2)},
		{Address: "0xcc", History: history(1)},
	}
	stored := map[string]int{"0xaa": 2, "0xbb": 2, "0xcc": 4}

	trims, inserts := planCheckpoints(stored, holders)

	if len(trims) != 1 || trims[0] != (checkpointTrim{address: "0xcc", from: 1}) {
		t.Fatalf("unexpected trims: %+v", trims)
	}
	if len(inserts) != 1 {
		t.Fatalf("expected 1 insert, got %+v", inserts)
	}
	if got := inserts[0]; got.address != "0xaa" || got.seq != 2 || got.checkpoint.Timestamp != 102 {
		t.Fatalf("unexpected insert: %+v", got)
	}

	_, inserts = planCheckpoints(map[string]int{}, holders)
	if len(inserts) != 6 {
		t.Fatalf("fresh pool should insert every checkpoint, got %d", len(inserts))
	}
	if inserts[3].address != "0xbb" || inserts[3].seq != 0 {
		t.Fatalf("unexpected ordering: %+v", inserts[3])
	}
}
