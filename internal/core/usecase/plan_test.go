package usecase

import (
	"reflect"
	"testing"
)

func set(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestPlanIsSetDifferenceInAscendingOrder(t *testing.T) {
	got := Plan(set("C", "A", "B"), set("A"), 0)
	if want := []string{"B", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan() = %v, want %v", got, want)
	}
}

func TestPlanLimitCountsOnlyNewItems(t *testing.T) {
	source := set("A", "B", "C")
	corpus := set("A")

	first := Plan(source, corpus, 1)
	if len(first) != 1 || first[0] != "B" {
		t.Fatalf("Plan(limit=1) = %v, want [B]", first)
	}

	corpus[first[0]] = struct{}{}
	second := Plan(source, corpus, 1)
	if len(second) != 1 || second[0] != "C" {
		t.Fatalf("expected remaining item to be planned next, got %v", second)
	}

	corpus[second[0]] = struct{}{}
	if third := Plan(source, corpus, 1); len(third) != 0 {
		t.Fatalf("expected empty plan, got %v", third)
	}
}

func TestPlanEmptyInputs(t *testing.T) {
	if got := Plan(nil, nil, 0); len(got) != 0 {
		t.Fatalf("Plan(nil, nil) = %v, want empty", got)
	}
	if got := Plan(set("A"), set("A", "Z"), 5); len(got) != 0 {
		t.Fatalf("expected nothing to do, got %v", got)
	}
}

func TestBuildWorkPlanExcludesLedgerEntriesBeforeLimit(t *testing.T) {
	plan := BuildWorkPlan(set("A", "B", "C", "D"), set("A"), set("B"), 1)

	if want := []string{"C"}; !reflect.DeepEqual(plan.Work, want) {
		t.Fatalf("Work = %v, want %v", plan.Work, want)
	}
	if plan.AlreadyPresent != 1 {
		t.Fatalf("AlreadyPresent = %d, want 1", plan.AlreadyPresent)
	}
	if want := []string{"B"}; !reflect.DeepEqual(plan.Excluded, want) {
		t.Fatalf("Excluded = %v, want %v", plan.Excluded, want)
	}
	if plan.Deferred != 1 {
		t.Fatalf("Deferred = %d, want 1", plan.Deferred)
	}
}
