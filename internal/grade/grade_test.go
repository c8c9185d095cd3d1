package grade

import "testing"

func TestGrade(t *testing.T) {
	tests := []struct {
		name      string
		student   string
		canonical string
		want      bool
	}{
		{"exact integer", "13", "13", true},
		{"within tolerance", "13.0000001", "13", true},
		{"outside tolerance", "13.001", "13", false},
		{"wrong integer", "14", "13", false},
		{"whitespace tolerated", "  13 ", "13", true},
		{"negative match", "-2.5", "-2.5", true},
		{"scientific notation", "1.3e1", "13", true},

		{"string equality", "hydrogen", "hydrogen", true},
		{"string trimmed", " hydrogen ", "hydrogen", true},
		{"string case sensitive", "Hydrogen", "hydrogen", false},
		{"string mismatch", "helium", "hydrogen", false},

		{"non numeric vs numeric", "thirteen", "13", false},
		{"empty student answer", "", "13", false},
		{"empty both", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Grade(tt.student, tt.canonical); got != tt.want {
				t.Errorf("Grade(%q, %q) = %v, want %v", tt.student, tt.canonical, got, tt.want)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	if v, ok := ParseNumber(" 42.5 "); !ok || v != 42.5 {
		t.Errorf("ParseNumber(42.5) = %v, %v", v, ok)
	}
	if _, ok := ParseNumber("not a number"); ok {
		t.Error("expected parse failure")
	}
}
