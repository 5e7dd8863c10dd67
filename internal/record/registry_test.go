package record

import "testing"

func TestRegistry_CoreValues(t *testing.T) {
	r := NewRegistry()

	for _, typ := range []Type{"bylaw", "policy", "resolution"} {
		if !r.KnownType(typ) {
			t.Errorf("expected core type %q to be known", typ)
		}
	}
	for _, st := range []Status{"draft", "pending_review", "published"} {
		if !r.KnownStatus(st) {
			t.Errorf("expected core status %q to be known", st)
		}
	}
	if r.KnownType("zoning_variance") {
		t.Error("unexpected known type")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterType("zoning_variance"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.KnownType("zoning_variance") {
		t.Error("registered type should be known")
	}

	if err := r.RegisterStatus("tabled"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.KnownStatus("tabled") {
		t.Error("registered status should be known")
	}

	types := r.Types()
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
}

func TestType_Validate(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"bylaw", true},
		{"pending_review", true},
		{"council-minutes", true},
		{"", false},
		{"Bylaw", false},
		{"has space", false},
		{"-leading", false},
	}

	for _, tt := range tests {
		err := Type(tt.value).Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Type(%q).Validate() error = %v, want valid=%v", tt.value, err, tt.valid)
		}
		err = Status(tt.value).Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Status(%q).Validate() error = %v, want valid=%v", tt.value, err, tt.valid)
		}
	}
}
