package reports

import "testing"

func TestParseRiskLevel(t *testing.T) {
	cases := []struct {
		in     string
		want   RiskLevel
		wantOK bool
	}{
		{"low", RiskLow, true},
		{"medium", RiskMedium, true},
		{"high", RiskHigh, true},
		{"critical", RiskCritical, true},
		{"CRITICAL", RiskCritical, true},
		{" High ", RiskHigh, true},
		{"", RiskMedium, false},
		{"severe", RiskMedium, false},
		{"catastrophic", RiskMedium, false},
	}
	for _, c := range cases {
		got, ok := ParseRiskLevel(c.in)
		if got != c.want || ok != c.wantOK {
			t.Errorf("ParseRiskLevel(%q) = (%s, %v), want (%s, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestCountByLevel(t *testing.T) {
	vs := []*Violation{
		{RiskLevel: RiskCritical},
		{RiskLevel: RiskHigh},
		{RiskLevel: RiskHigh},
		{RiskLevel: RiskMedium},
		{RiskLevel: RiskLow},
		{RiskLevel: RiskLow},
		{RiskLevel: RiskLow},
	}
	critical, high, medium, low := CountByLevel(vs)
	if critical != 1 || high != 2 || medium != 1 || low != 3 {
		t.Errorf("counts = c%d h%d m%d l%d, want c1 h2 m1 l3", critical, high, medium, low)
	}
}

func TestStatusTerminal(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
	} {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
