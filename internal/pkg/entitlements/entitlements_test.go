package entitlements

import "testing"

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "basic", want: PlanBasic},
		{in: "PRO", want: PlanPro},
		{in: "enterprise", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := NormalizePlan(tt.in); got != tt.want {
			t.Fatalf("NormalizePlan(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRank(t *testing.T) {
	if Rank(PlanFree) >= Rank(PlanBasic) {
		t.Fatalf("expected basic to outrank free")
	}
	if Rank(PlanBasic) >= Rank(PlanPro) {
		t.Fatalf("expected pro to outrank basic")
	}
}

func TestCanJoinSupportSessions(t *testing.T) {
	if CanJoinSupportSessions(PlanFree) {
		t.Fatalf("free plan must not join support sessions")
	}
	if !CanJoinSupportSessions(PlanBasic) || !CanJoinSupportSessions(PlanPro) {
		t.Fatalf("paid plans must join support sessions")
	}
}
