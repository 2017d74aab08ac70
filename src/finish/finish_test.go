package finish

import (
	"testing"

	"livesession/src/model"
)

func TestFinishAllDone(t *testing.T) {
	tally := NewTally([]string{"a", "b"})

	if tally.Finish("a") {
		t.Fatal("expected not all done after only one participant finished")
	}
	if !tally.Finish("b") {
		t.Fatal("expected all done once every participant finished")
	}
}

func TestWaitingListsOnlyUnfinished(t *testing.T) {
	tally := NewTally([]string{"a", "b", "c"})
	tally.Finish("a")

	waiting := tally.Waiting()
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting, got %d: %v", len(waiting), waiting)
	}
	for _, id := range waiting {
		if id == "a" {
			t.Fatalf("finished participant should not appear in waiting list: %v", waiting)
		}
	}
}

func TestEmptyRosterNeverAllDone(t *testing.T) {
	tally := NewTally(nil)
	if tally.Finish("a") {
		t.Fatal("a tally with no expected roster should never report allDone")
	}
}

func TestSetRosterReplacesExpected(t *testing.T) {
	tally := NewTally([]string{"a", "b"})
	tally.Finish("a")
	tally.SetRoster([]string{"a"})

	if !tally.Finish("a") {
		t.Fatal("expected all done after roster shrunk to just the finished participant")
	}
}

func TestBuildSummaryAggregatesVolumeAndSets(t *testing.T) {
	states := map[string]model.LiveUserState{
		"a": {TotalVolume: 100, SetsCompleted: 3},
		"b": {TotalVolume: 50, SetsCompleted: 2},
	}

	summary := BuildSummary(states)

	if summary.TotalVolume != 150 {
		t.Fatalf("expected total volume 150, got %v", summary.TotalVolume)
	}
	if summary.SetsCompleted != 5 {
		t.Fatalf("expected 5 sets completed, got %d", summary.SetsCompleted)
	}
	if len(summary.ByParticipant) != 2 {
		t.Fatalf("expected 2 participants in rollup, got %d", len(summary.ByParticipant))
	}
}
