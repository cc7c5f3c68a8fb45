package cohort

import (
	"encoding/json"
	"sort"

	"github.com/synaptica-ai/reporting/pkg/common/models"
)

// Cohort is a set of unique subject ids. The zero value is an empty cohort.
type Cohort struct {
	members map[models.SubjectID]struct{}
}

func New(ids ...models.SubjectID) *Cohort {
	c := &Cohort{members: make(map[models.SubjectID]struct{}, len(ids))}
	for _, id := range ids {
		c.members[id] = struct{}{}
	}
	return c
}

func (c *Cohort) Add(ids ...models.SubjectID) {
	if c.members == nil {
		c.members = make(map[models.SubjectID]struct{}, len(ids))
	}
	for _, id := range ids {
		c.members[id] = struct{}{}
	}
}

func (c *Cohort) Contains(id models.SubjectID) bool {
	if c == nil {
		return false
	}
	_, ok := c.members[id]
	return ok
}

func (c *Cohort) Size() int {
	if c == nil {
		return 0
	}
	return len(c.members)
}

func (c *Cohort) IsEmpty() bool {
	return c.Size() == 0
}

// Members returns the ids in ascending order.
func (c *Cohort) Members() []models.SubjectID {
	ids := make([]models.SubjectID, 0, c.Size())
	if c == nil {
		return ids
	}
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Cohort) Clone() *Cohort {
	out := New()
	if c == nil {
		return out
	}
	for id := range c.members {
		out.members[id] = struct{}{}
	}
	return out
}

func (c *Cohort) Union(other *Cohort) *Cohort {
	out := c.Clone()
	if other == nil {
		return out
	}
	for id := range other.members {
		out.members[id] = struct{}{}
	}
	return out
}

func (c *Cohort) Intersect(other *Cohort) *Cohort {
	out := New()
	if c == nil || other == nil {
		return out
	}
	small, large := c, other
	if len(large.members) < len(small.members) {
		small, large = large, small
	}
	for id := range small.members {
		if _, ok := large.members[id]; ok {
			out.members[id] = struct{}{}
		}
	}
	return out
}

func (c *Cohort) Subtract(other *Cohort) *Cohort {
	out := New()
	if c == nil {
		return out
	}
	for id := range c.members {
		if !other.Contains(id) {
			out.members[id] = struct{}{}
		}
	}
	return out
}

// Complement returns the members of population that are not in c.
func (c *Cohort) Complement(population *Cohort) *Cohort {
	return population.Subtract(c)
}

func (c *Cohort) Equal(other *Cohort) bool {
	if c.Size() != other.Size() {
		return false
	}
	if c == nil {
		return true
	}
	for id := range c.members {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

type cohortJSON struct {
	MemberIDs []models.SubjectID `json:"member_ids"`
	Size      int                `json:"size"`
}

func (c *Cohort) MarshalJSON() ([]byte, error) {
	members := c.Members()
	return json.Marshal(cohortJSON{MemberIDs: members, Size: len(members)})
}

func (c *Cohort) UnmarshalJSON(data []byte) error {
	var payload cohortJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	c.members = make(map[models.SubjectID]struct{}, len(payload.MemberIDs))
	for _, id := range payload.MemberIDs {
		c.members[id] = struct{}{}
	}
	return nil
}
