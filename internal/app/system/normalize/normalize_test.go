package normalize

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"user@example.com", "user@example.com"},
		{"USER@EXAMPLE.COM", "user@example.com"},
		{"  User@Example.Com  ", "user@example.com"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Email(tt.input); got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSurname(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Dupont", "DUPONT"},
		{"  dupont ", "DUPONT"},
		{"Légaré", "LEGARE"},
		{"Jean-Noël", "JEAN-NOEL"},
		{"Van der Berg", "VAN DER BERG"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Surname(tt.input); got != tt.want {
				t.Errorf("Surname(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGivenName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Élodie", "elodie"},
		{"elodie ", "elodie"},
		{"FRANÇOIS", "francois"},
		{"Chloë", "chloe"},
		{"Jean Paul", "jean paul"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := GivenName(tt.input); got != tt.want {
				t.Errorf("GivenName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Jean-Paul", "jean paul", true},
		{"jean_paul", "JEANPAUL", true},
		{"Élodie", "elodie ", true},
		{"DUPONT", "Dupont", true},
		{"Dupont", "Dupond", false},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			got := MatchKey(tt.a) == MatchKey(tt.b)
			if got != tt.same {
				t.Errorf("MatchKey(%q)==MatchKey(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
			}
		})
	}
}

func TestSameName(t *testing.T) {
	if !SameName("DUPONT", "elodie", "Dupont", "Élodie") {
		t.Error("expected accented input to match stored seat")
	}
	if !SameName("DUPONT", "elodie", "dupont", "elodie ") {
		t.Error("expected trailing space to be ignored")
	}
	if SameName("DUPONT", "elodie", "MARTIN", "elodie") {
		t.Error("different surnames must not match")
	}
}

func TestDedupKey(t *testing.T) {
	if DedupKey("Dupont", "Élodie") != DedupKey("DUPONT", "elodie") {
		t.Error("dedup key should ignore case and accents")
	}
	// The separator keeps ("AB","C") and ("A","BC") apart.
	if DedupKey("AB", "C") == DedupKey("A", "BC") {
		t.Error("dedup key must keep the name boundary")
	}
}

func TestCode(t *testing.T) {
	if got := Code("  Ab12 "); got != "Ab12" {
		t.Errorf("Code = %q, want %q", got, "Ab12")
	}
}
