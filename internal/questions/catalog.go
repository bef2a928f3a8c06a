package questions

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

//go:embed catalog.json
var catalogJSON []byte

// Question is one static catalog entry.
type Question struct {
	ID              string   `json:"id"`
	SectionID       string   `json:"sectionId"`
	Priority        int      `json:"priority"` // 3 = ask first, 1 = ask last
	Question        string   `json:"question"`
	Intent          string   `json:"intent"`
	ExtractionHints []string `json:"extractionHints"`
}

// Section is a topical bucket of the profile.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Catalog is the immutable question bank. Questions are kept in ask order:
// priority desc, section order, then question id.
type Catalog struct {
	sections  []Section
	sectionBy map[string]Section
	questions []Question
	byID      map[string]Question
}

type catalogFile struct {
	Sections  []Section  `json:"sections"`
	Questions []Question `json:"questions"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog embedded in the binary. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		var f catalogFile
		if err := json.Unmarshal(catalogJSON, &f); err != nil {
			defaultErr = fmt.Errorf("parsing embedded catalog: %w", err)
			return
		}
		defaultCatalog, defaultErr = New(f.Sections, f.Questions)
	})
	return defaultCatalog, defaultErr
}

// New validates and builds a Catalog. Question ids must be unique, priorities
// must be 1..3 and every question must reference a known section.
func New(sections []Section, qs []Question) (*Catalog, error) {
	c := &Catalog{
		sectionBy: make(map[string]Section, len(sections)),
		byID:      make(map[string]Question, len(qs)),
	}
	for _, s := range sections {
		if s.ID == "" {
			return nil, fmt.Errorf("section with empty id")
		}
		if _, dup := c.sectionBy[s.ID]; dup {
			return nil, fmt.Errorf("duplicate section %q", s.ID)
		}
		c.sectionBy[s.ID] = s
		c.sections = append(c.sections, s)
	}
	sort.SliceStable(c.sections, func(i, j int) bool { return c.sections[i].Order < c.sections[j].Order })

	for _, q := range qs {
		if q.ID == "" {
			return nil, fmt.Errorf("question with empty id")
		}
		if _, dup := c.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		if q.Priority < 1 || q.Priority > 3 {
			return nil, fmt.Errorf("question %s: priority %d out of range", q.ID, q.Priority)
		}
		if _, ok := c.sectionBy[q.SectionID]; !ok {
			return nil, fmt.Errorf("question %s: unknown section %q", q.ID, q.SectionID)
		}
		c.byID[q.ID] = q
		c.questions = append(c.questions, q)
	}
	c.sortQuestions(c.questions)
	return c, nil
}

// Sections returns the sections in display order.
func (c *Catalog) Sections() []Section {
	out := make([]Section, len(c.sections))
	copy(out, c.sections)
	return out
}

// Section looks up a section by id.
func (c *Catalog) Section(id string) (Section, bool) {
	s, ok := c.sectionBy[id]
	return s, ok
}

// SectionIDs returns the closed vocabulary of valid section ids.
func (c *Catalog) SectionIDs() []string {
	ids := make([]string, len(c.sections))
	for i, s := range c.sections {
		ids[i] = s.ID
	}
	return ids
}

// Questions returns every question in ask order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Get looks up a question by id.
func (c *Catalog) Get(id string) (Question, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// Len is the number of questions in the catalog.
func (c *Catalog) Len() int { return len(c.questions) }

// Missing returns every question not in answered, in ask order.
func (c *Catalog) Missing(answered map[string]bool) []Question {
	var out []Question
	for _, q := range c.questions {
		if !answered[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

// Next picks the first unanswered question starting at tier priority and
// dropping one tier at a time when a tier is exhausted. It returns the tier
// the question belongs to. ok is false when no tier at or below priority has
// anything left.
func (c *Catalog) Next(answered map[string]bool, priority int) (q Question, tier int, ok bool) {
	if priority > 3 || priority < 1 {
		priority = 3
	}
	for tier = priority; tier >= 1; tier-- {
		for _, q := range c.questions {
			if q.Priority == tier && !answered[q.ID] {
				return q, tier, true
			}
		}
	}
	return Question{}, 1, false
}

// NextSkipping is Next with the skipped questions held back: they are only
// offered again, highest tier first, once every other question at or below
// priority is answered.
func (c *Catalog) NextSkipping(answered, skipped map[string]bool, priority int) (q Question, tier int, ok bool) {
	if len(skipped) > 0 {
		held := make(map[string]bool, len(answered)+len(skipped))
		for id, v := range answered {
			held[id] = v
		}
		for id, v := range skipped {
			held[id] = held[id] || v
		}
		if q, tier, ok = c.Next(held, priority); ok {
			return q, tier, true
		}
		priority = 3
	}
	return c.Next(answered, priority)
}

// After returns the question that would be picked once current is answered.
func (c *Catalog) After(answered map[string]bool, current Question) (Question, bool) {
	next := make(map[string]bool, len(answered)+1)
	for id, v := range answered {
		next[id] = v
	}
	next[current.ID] = true
	q, _, ok := c.Next(next, current.Priority)
	return q, ok
}

func (c *Catalog) sortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		oa, ob := c.sectionBy[a.SectionID].Order, c.sectionBy[b.SectionID].Order
		if oa != ob {
			return oa < ob
		}
		return CompareIDs(a.ID, b.ID) < 0
	})
}

// CompareIDs orders question ids like "1-2" < "1-10" by comparing the
// dash-separated parts numerically where both parts are numbers.
func CompareIDs(a, b string) int {
	pa, pb := strings.Split(a, "-"), strings.Split(b, "-")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}
