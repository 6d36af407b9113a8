package decoder

import (
	"testing"

	"github.com/dene67/canhack/internal/can"
	"github.com/dene67/canhack/internal/encoder"
)

func TestDecodeRejectsRecessiveSOF(t *testing.T) {
	bits := make([]uint8, 20)
	for i := range bits {
		bits[i] = can.Recessive
	}
	if _, err := Decode(bits); err != ErrBadSOF {
		t.Fatalf("want ErrBadSOF, got %v", err)
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	bits := []uint8{can.Dominant, can.Dominant, can.Dominant}
	if _, err := Decode(bits); err != ErrTruncated {
		t.Fatalf("want ErrTruncated, got %v", err)
	}
}

func TestDecodeRoundTripVariousSpecs(t *testing.T) {
	cases := []can.FrameSpec{
		{IDA: 0x000, DLC: 0},
		{IDA: 0x7FF, DLC: 8, Data: [64]byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{IDA: 0x555, IDE: true, IDB: 0x2AAAA, DLC: 4},
		{IDA: 0x1, RTR: true},
	}
	cases[1].Data[0] = 0xFF
	cases[2].Data[0], cases[2].Data[3] = 0xDE, 0xAD

	for i, spec := range cases {
		f, err := encoder.Encode(spec)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		got, err := Decode(f.TxBitstream)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if got.IDA != spec.IDA || got.IDE != spec.IDE || got.RTR != spec.RTR || got.DLC != spec.DLC {
			t.Fatalf("case %d: header mismatch: got %+v want %+v", i, got, spec)
		}
		if spec.IDE && got.IDB != spec.IDB {
			t.Fatalf("case %d: id_b mismatch: got %#x want %#x", i, got.IDB, spec.IDB)
		}
		for j := 0; j < spec.DataLen(); j++ {
			if got.Data[j] != spec.Data[j] {
				t.Fatalf("case %d: data[%d] mismatch: got %#x want %#x", i, j, got.Data[j], spec.Data[j])
			}
		}
	}
}
