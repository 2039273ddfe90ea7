package workload

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/blackboard"
)

// Generator defaults.
const (
	DefaultMaxAssets = 4
	DefaultMaxTasks  = 64
)

var verbs = []string{"transport", "supply", "repair", "inspect", "load"}

// Cursor is the generator state kept as the owner's blob.
type Cursor struct {
	Steps    int64 `cbor:"1,keyasint"`
	Assets   int64 `cbor:"2,keyasint"`
	Tasks    int64 `cbor:"3,keyasint"`
	Retired  int64 `cbor:"4,keyasint"`
	Finished int64 `cbor:"5,keyasint"`
}

// Generator mutates a blackboard on behalf of one owner.
type Generator struct {
	bb        *blackboard.Blackboard
	owner     string
	rng       *rand.Rand
	now       func() time.Time
	maxAssets int
	maxTasks  int
	cursor    Cursor
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the generator deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithLimits bounds the number of assets and live tasks.
func WithLimits(assets, tasks int) Option {
	return func(g *Generator) {
		if assets > 0 {
			g.maxAssets = assets
		}
		if tasks > 0 {
			g.maxTasks = tasks
		}
	}
}

// WithClock sets the time source for task creation times.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator returns a generator for owner. It resumes from the cursor
// blob already on bb, if any.
func NewGenerator(bb *blackboard.Blackboard, owner string, opts ...Option) (*Generator, error) {
	g := &Generator{
		bb:        bb,
		owner:     owner,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:       time.Now,
		maxAssets: DefaultMaxAssets,
		maxTasks:  DefaultMaxTasks,
	}
	for _, opt := range opts {
		opt(g)
	}
	if blob := bb.Blob(owner); blob != nil {
		if err := cbor.Unmarshal(blob, &g.cursor); err != nil {
			return nil, fmt.Errorf("workload: decode cursor: %w", err)
		}
	}
	return g, nil
}

// Cursor returns the generator state.
func (g *Generator) Cursor() Cursor { return g.cursor }

// Step performs one round of planning inside a blackboard transaction: it
// may add an asset, adds a task, completes one open task and retires
// finished tasks above the limit.
func (g *Generator) Step() error {
	return g.bb.Transaction(g.step)
}

func (g *Generator) step() error {
	assets, open, finished := g.inventory()

	if len(assets) < g.maxAssets {
		a, err := g.addAsset()
		if err != nil {
			return err
		}
		assets = append(assets, a)
	}

	t, err := g.addTask(assets, open)
	if err != nil {
		return err
	}
	open = append(open, t)

	if len(open) > 1 {
		i := g.rng.IntN(len(open) - 1)
		victim := open[i]
		open = slices.Delete(open, i, i+1)
		victim.complete()
		if err := g.bb.Change(g.owner, victim.ID); err != nil {
			return err
		}
		g.cursor.Finished++
		finished = append(finished, victim)
	}

	for len(open)+len(finished) > g.maxTasks && len(finished) > 0 {
		if err := g.bb.Remove(g.owner, finished[0].ID); err != nil {
			return err
		}
		finished = finished[1:]
		g.cursor.Retired++
	}

	g.cursor.Steps++
	blob, err := cbor.Marshal(g.cursor)
	if err != nil {
		return fmt.Errorf("workload: encode cursor: %w", err)
	}
	g.bb.SetBlob(g.owner, blob)
	return nil
}

// inventory splits the owner's objects by kind, each sorted by id.
func (g *Generator) inventory() (assets []*Asset, open, finished []*Task) {
	for _, o := range g.bb.Objects(g.owner) {
		switch v := o.(type) {
		case *Asset:
			assets = append(assets, v)
		case *Task:
			if v.Done {
				finished = append(finished, v)
			} else {
				open = append(open, v)
			}
		}
	}
	return assets, open, finished
}

func (g *Generator) addAsset() (*Asset, error) {
	id, err := NewID(AssetIDPrefix, g.now())
	if err != nil {
		return nil, err
	}
	g.cursor.Assets++
	a := &Asset{
		ID:       id,
		Name:     fmt.Sprintf("asset-%d", g.cursor.Assets),
		Capacity: int64(4 + g.rng.IntN(8)),
	}
	if err := g.bb.Publish(g.owner, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (g *Generator) addTask(assets []*Asset, open []*Task) (*Task, error) {
	id, err := NewID(TaskIDPrefix, g.now())
	if err != nil {
		return nil, err
	}
	t := &Task{
		ID:      id,
		Verb:    verbs[g.rng.IntN(len(verbs))],
		Created: g.now().UTC(),
	}
	if len(open) > 0 && g.rng.IntN(2) == 0 {
		t.Parent = open[g.rng.IntN(len(open))]
	}
	for _, i := range g.rng.Perm(len(assets)) {
		if assets[i].Free() {
			t.allocate(assets[i])
			break
		}
	}
	if err := g.bb.Publish(g.owner, t); err != nil {
		return nil, err
	}
	g.cursor.Tasks++
	return t, nil
}
