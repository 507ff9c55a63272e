package route

import (
	"encoding/json"
	"testing"
)

func TestParseTable_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"truncated object", `{"a@b.c": {"targets":`},
		{"not an object", `[1, 2, 3]`},
		{"plain garbage", "not json at all"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			table := ParseTable(tc.raw)
			if len(table) != 0 {
				t.Errorf("ParseTable(%q): got %d entries, want 0", tc.raw, len(table))
			}
		})
	}
}

func TestParseTable_NormalizesKeys(t *testing.T) {
	t.Parallel()

	table := ParseTable(`{"Support@YourCompany.com": {"targets": ["team@example.com"]}}`)

	if table.Resolve("support@yourcompany.com") == nil {
		t.Error("expected lower-cased lookup to match mixed-case key")
	}
}

func TestResolve_ExactMatchWinsOverFallback(t *testing.T) {
	t.Parallel()

	table := ParseTable(`{
		"support@yourcompany.com": {"targets": ["team@example.com"]},
		"fallback": {"name": "catch-all"}
	}`)

	rt := table.Resolve("support@yourcompany.com")
	if rt == nil {
		t.Fatal("expected exact match")
	}
	if rt.Kind != KindForward {
		t.Errorf("Kind: got %q, want %q", rt.Kind, KindForward)
	}
}

func TestResolve_FallbackUsedWhenNoExactMatch(t *testing.T) {
	t.Parallel()

	table := ParseTable(`{"fallback": {"name": "catch-all"}}`)

	rt := table.Resolve("nobody@yourcompany.com")
	if rt == nil {
		t.Fatal("expected fallback route")
	}
	if rt.Kind != KindChannel || rt.ChannelName != "catch-all" {
		t.Errorf("got kind=%q name=%q, want channel/catch-all", rt.Kind, rt.ChannelName)
	}
}

func TestResolve_NilWhenNoMatchAndNoFallback(t *testing.T) {
	t.Parallel()

	table := ParseTable(`{"support@yourcompany.com": {"targets": ["team@example.com"]}}`)

	if rt := table.Resolve("nobody@yourcompany.com"); rt != nil {
		t.Errorf("expected nil route, got %+v", rt)
	}
}

func TestRouteUnmarshal_StringTarget(t *testing.T) {
	t.Parallel()

	var rt Route
	if err := json.Unmarshal([]byte(`{"targets": "oncall@yourcompany.com"}`), &rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.Kind != KindForward {
		t.Errorf("Kind: got %q, want %q", rt.Kind, KindForward)
	}
	if len(rt.Targets) != 1 || rt.Targets[0] != "oncall@yourcompany.com" {
		t.Errorf("Targets: got %v, want one-element list", rt.Targets)
	}
}

func TestRouteUnmarshal_LegacyForwardTo(t *testing.T) {
	t.Parallel()

	var rt Route
	if err := json.Unmarshal([]byte(`{"forwardTo": "team@example.com"}`), &rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.Kind != KindForward {
		t.Errorf("Kind: got %q, want %q", rt.Kind, KindForward)
	}
	if len(rt.Targets) != 1 || rt.Targets[0] != "team@example.com" {
		t.Errorf("Targets: got %v, want [team@example.com]", rt.Targets)
	}
}

func TestRouteUnmarshal_KindInference(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"explicit kind", `{"kind": "dm", "user": "U123"}`, KindDM},
		{"user implies dm", `{"user": "U123"}`, KindDM},
		{"name implies channel", `{"name": "#support"}`, KindChannel},
		{"id implies channel", `{"id": "CH123ABC"}`, KindChannel},
		{"targets imply forward", `{"targets": ["a@b.cc"]}`, KindForward},
		{"null forwardTo implies forward", `{"forwardTo": null}`, KindForward},
		{"empty targets imply forward", `{"targets": []}`, KindForward},
		{"empty entry implies forward", `{}`, KindForward},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var rt Route
			if err := json.Unmarshal([]byte(tc.raw), &rt); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.Kind != tc.want {
				t.Errorf("Kind: got %q, want %q", rt.Kind, tc.want)
			}
		})
	}
}

func TestValidTargets_FiltersInvalidAddresses(t *testing.T) {
	t.Parallel()

	rt := Route{
		Kind:    KindForward,
		Targets: []string{"not-an-email", "team@example.com", "", " ops@example.com "},
	}

	got := rt.ValidTargets()
	want := []string{"team@example.com", "ops@example.com"}
	if len(got) != len(want) {
		t.Fatalf("ValidTargets: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ValidTargets[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
