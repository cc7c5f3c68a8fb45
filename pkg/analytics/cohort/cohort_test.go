package cohort

import (
	"encoding/json"
	"testing"

	"github.com/synaptica-ai/reporting/pkg/common/models"
)

func TestCohortDeduplicates(t *testing.T) {
	c := New(3, 1, 3, 2, 1)
	if c.Size() != 3 {
		t.Fatalf("expected 3 members, got %d", c.Size())
	}
	members := c.Members()
	want := []models.SubjectID{1, 2, 3}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("expected ascending members %v, got %v", want, members)
		}
	}
}

func TestCohortSetOperations(t *testing.T) {
	population := New(1, 2, 3, 4, 5)
	a := New(1, 2, 3)
	b := New(3, 4)

	if got := a.Union(b); !got.Equal(New(1, 2, 3, 4)) {
		t.Fatalf("union: got %v", got.Members())
	}
	if got := a.Intersect(b); !got.Equal(New(3)) {
		t.Fatalf("intersect: got %v", got.Members())
	}
	if got := a.Subtract(b); !got.Equal(New(1, 2)) {
		t.Fatalf("subtract: got %v", got.Members())
	}
	if got := a.Complement(population); !got.Equal(New(4, 5)) {
		t.Fatalf("complement: got %v", got.Members())
	}
	if a.Size() != 3 || b.Size() != 2 {
		t.Fatal("set operations must not mutate their operands")
	}
}

func TestNilCohortIsEmpty(t *testing.T) {
	var c *Cohort
	if !c.IsEmpty() || c.Contains(1) {
		t.Fatal("nil cohort should behave as empty")
	}
	if got := c.Union(New(7)); !got.Equal(New(7)) {
		t.Fatalf("union with nil: got %v", got.Members())
	}
	if got := New(7).Intersect(nil); !got.IsEmpty() {
		t.Fatalf("intersect with nil: got %v", got.Members())
	}
	var zero Cohort
	zero.Add(9)
	if !zero.Contains(9) {
		t.Fatal("zero value cohort should accept members")
	}
}

func TestCohortJSON(t *testing.T) {
	data, err := json.Marshal(New(5, 2))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"member_ids":[2,5],"size":2}` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var decoded Cohort
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(New(2, 5)) {
		t.Fatalf("decoded members %v", decoded.Members())
	}
	empty, _ := json.Marshal(New())
	if string(empty) != `{"member_ids":[],"size":0}` {
		t.Fatalf("empty cohort must encode an empty list, got %s", empty)
	}
}
