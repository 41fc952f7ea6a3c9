package seed

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/upb/audit-query/models"
)

// MaxPage is the largest page number the picker requests
const MaxPage = 2000

// PageSizes are the page sizes the picker draws from
var PageSizes = []int{10, 20, 50}

var pickerActions = []string{"UPDATE", "CREATE", "DELETE"}

// QueryPicker draws random queries over the last week of data.
// It is safe for concurrent use.
type QueryPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewQueryPicker creates a picker; the same seed yields the same sequence
// for the same clock
func NewQueryPicker(seed uint64, now func() time.Time) *QueryPicker {
	if now == nil {
		now = time.Now
	}
	return &QueryPicker{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: now,
	}
}

// Pick returns the next query
func (p *QueryPicker) Pick() models.Query {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.rng
	now := p.now().Unix()
	q := models.Query{
		FromTS:   now - int64(7*24*time.Hour/time.Second),
		ToTS:     now,
		Page:     1 + r.IntN(MaxPage),
		PageSize: PageSizes[r.IntN(len(PageSizes))],
	}

	if r.IntN(2) == 1 {
		actor := 1 + r.Int64N(MaxActorID)
		q.ActorID = &actor
	}
	if i := r.IntN(len(pickerActions) + 1); i > 0 {
		action := pickerActions[i-1]
		q.Action = &action
	}
	return q
}
