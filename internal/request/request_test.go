package request

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", Request{Type: IoRead, Priority: 5}, true},
		{"max priority", Request{Type: IoWrite, Priority: 10}, true},
		{"priority too high", Request{Type: IoRead, Priority: 11}, false},
		{"unknown type ok", Request{Type: Unknown}, true},
		{"type out of range", Request{Type: Type(TypeCount)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok && err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("validate: got %v, want %v", err, ErrInvalidRequest)
			}
		})
	}
}

func TestPattern(t *testing.T) {
	t.Parallel()

	r := Request{Type: DmaAlloc, DeviceID: 0x12345678}
	p := r.Pattern()
	if Type(p>>24) != DmaAlloc {
		t.Fatalf("pattern type byte: %#x", p)
	}
	if p&0xFFFFFF != 0x345678 {
		t.Fatalf("pattern device bits: %#x", p)
	}
}

func TestTypeStringRoundTrip(t *testing.T) {
	t.Parallel()

	for typ := IoRead; int(typ) < TypeCount; typ++ {
		if got := ParseType(typ.String()); got != typ {
			t.Fatalf("round trip %s: got %s", typ, got)
		}
	}
	if got := ParseType("garbage"); got != Unknown {
		t.Fatalf("garbage parse: got %s", got)
	}
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	if PassThrough.String() != "pass_through" {
		t.Fatalf("pass_through: %s", PassThrough.String())
	}
	if Decision(99).String() != "invalid" {
		t.Fatalf("out of range decision: %s", Decision(99).String())
	}
}
