package gamification

import (
	"testing"

	"github.com/example/activity-radar/internal/models"
)

type counter struct{ n int }

func (c *counter) Count() int { return c.n }

func ids(as []Achievement) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func TestFirstViewAndCategoryPredicates(t *testing.T) {
	tr := NewTracker(&counter{})
	got := ids(tr.RecordView(models.Item{ID: "1", Categories: []string{"Спортивные секции"}}))
	if len(got) != 2 || got[0] != FirstView || got[1] != Sporty {
		t.Fatalf("unexpected unlocks %v", got)
	}
	// the same conditions hold again but must not re-trigger
	if again := tr.RecordView(models.Item{ID: "2", Categories: []string{"спорт"}}); len(again) != 0 {
		t.Fatalf("expected no repeat unlocks, got %v", ids(again))
	}
	st := tr.State()
	if st.PlacesViewed != 2 || len(st.CategoriesExplored) != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestExplorerThreshold(t *testing.T) {
	tr := NewTracker(nil)
	for i := 0; i < explorerViews-1; i++ {
		tr.RecordView(models.Item{ID: "x"})
	}
	if tr.Unlocked(Explorer) {
		t.Fatal("explorer unlocked too early")
	}
	got := ids(tr.RecordView(models.Item{ID: "x"}))
	if len(got) != 1 || got[0] != Explorer {
		t.Fatalf("expected explorer unlock, got %v", got)
	}
}

func TestFavoriteThresholdsFireOnce(t *testing.T) {
	favs := &counter{}
	tr := NewTracker(favs)

	favs.n = 1
	if got := ids(tr.CheckFavorites()); len(got) != 1 || got[0] != FirstLike {
		t.Fatalf("expected first_like, got %v", got)
	}
	// toggle off and on again: no duplicate unlock
	favs.n = 0
	if got := tr.CheckFavorites(); len(got) != 0 {
		t.Fatalf("expected nothing on unlike, got %v", ids(got))
	}
	favs.n = 1
	if got := tr.CheckFavorites(); len(got) != 0 {
		t.Fatalf("expected no duplicate first_like, got %v", ids(got))
	}
	if !tr.Unlocked(FirstLike) {
		t.Fatal("unlocks must be monotonic")
	}
	favs.n = collectorLikes
	if got := ids(tr.CheckFavorites()); len(got) != 1 || got[0] != Collector {
		t.Fatalf("expected collector, got %v", got)
	}
}

func TestZonePredicates(t *testing.T) {
	tests := []struct {
		cat  string
		want string
	}{
		{"Робототехника", Geek},
		{"Музыкальная школа", Creative},
		{"Английский язык", Polyglot},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			tr := NewTracker(nil)
			tr.RecordView(models.Item{ID: "1", Categories: []string{tt.cat}})
			if !tr.Unlocked(tt.want) {
				t.Fatalf("expected %s after viewing %q, got %v", tt.want, tt.cat, ids(tr.State().Unlocked))
			}
		})
	}
}

func TestLookup(t *testing.T) {
	for _, a := range All() {
		if got, ok := Lookup(a.ID); !ok || got != a {
			t.Fatalf("lookup %s failed", a.ID)
		}
	}
}
