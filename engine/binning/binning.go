// Package binning implements the grid stages of the pipeline around the sort: assigning each
// agent a cell hash, clearing the per-cell range tables, and extracting the cell ranges from
// the sorted order while gathering agent attributes into that order.
package binning

import (
	"fmt"
	"log"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// CellTables are the per-cell range tables, numCells words each. After extraction the agents
// of cell c occupy sorted slots [Start[c], End[c]); both hold params.EmptyCell for an empty cell.
type CellTables struct {
	Start buffer.Buffer
	End   buffer.Buffer
}

// KeyValues holds the (cell hash, agent slot) pairs produced by Hash and ordered by the sorter.
type KeyValues struct {
	Keys buffer.Buffer
	Vals buffer.Buffer
}

// AgentBuffers is one set of agent attribute buffers, one Vec4 per padded slot each.
// Goal and Color are optional but must be given together.
type AgentBuffers struct {
	Pos   buffer.Buffer
	Vel   buffer.Buffer
	Goal  buffer.Buffer
	Color buffer.Buffer
}

// hasAttributes reports whether the set carries goal and colour buffers.
func (a AgentBuffers) hasAttributes() bool {
	return a.Goal != nil && a.Color != nil
}

// CellRange is the run of sorted slots occupied by one non-empty cell.
type CellRange struct {
	Cell  uint32
	Start uint32
	End   uint32
}

// Len returns the number of agents in the cell.
func (r CellRange) Len() uint32 {
	return r.End - r.Start
}

// binner is the implementation of the Binner interface.
type binner struct {
	dev       device.Device
	providers *bind_group_provider.Cache
}

// Binner dispatches the hash, clear and extract stages on a Device. Every method only
// enqueues work, except Ranges which reads back.
type Binner interface {
	// Hash assigns every padded slot its cell hash and its own index as value. Slots at or
	// beyond p.NumBodies receive params.PaddingKey so they sort last.
	//
	// Parameters:
	//   - pos: agent positions, p.PaddedBodies Vec4s
	//   - keys: receives the hashes, p.PaddedBodies words
	//   - vals: receives the slot indices, p.PaddedBodies words
	//   - p: the simulation parameters
	//
	// Returns:
	//   - error: a buffer size or dispatch error
	Hash(pos, keys, vals buffer.Buffer, p params.SimParams) error

	// Clear fills both range tables with params.EmptyCell for numCells entries.
	//
	// Parameters:
	//   - tables: the range tables
	//   - numCells: the number of cells
	//
	// Returns:
	//   - error: a buffer size or dispatch error
	Clear(tables CellTables, numCells uint32) error

	// ExtractAndReorder writes the cell ranges of the sorted pairs into tables and gathers
	// in.Pos and in.Vel into out.Pos and out.Vel in sorted order. When both in and out carry
	// goal and colour buffers those are gathered too, in a second dispatch. The tables must
	// have been cleared earlier in the same step.
	//
	// Parameters:
	//   - tables: the cleared range tables
	//   - sorted: the sorted (hash, slot) pairs
	//   - in: attributes in slot order
	//   - out: receives attributes in sorted order
	//   - p: the simulation parameters
	//
	// Returns:
	//   - error: a buffer size or dispatch error
	ExtractAndReorder(tables CellTables, sorted KeyValues, in, out AgentBuffers, p params.SimParams) error

	// Ranges reads back the range tables and returns every non-empty cell in cell order.
	// Blocks until the device has finished all submitted work.
	//
	// Parameters:
	//   - tables: the range tables
	//   - numCells: the number of cells
	//
	// Returns:
	//   - []CellRange: the non-empty cells
	//   - error: a readback error
	Ranges(tables CellTables, numCells uint32) ([]CellRange, error)

	// Release frees the cached bind groups.
	Release()
}

var _ Binner = &binner{}

// Binding indices of the binning programs.
const (
	fillDst = 1

	hashPos  = 1
	hashKeys = 2
	hashVals = 3

	edgeKeys      = 1
	edgeVals      = 2
	edgeStart     = 3
	edgeEnd       = 4
	edgePos       = 5
	edgeVel       = 6
	edgeSortedPos = 7
	edgeSortedVel = 8

	gatherVals        = 1
	gatherGoal        = 2
	gatherColor       = 3
	gatherSortedGoal  = 4
	gatherSortedColor = 5
)

// NewBinner creates a Binner and registers its kernels on dev.
//
// Parameters:
//   - dev: the device the stages run on
//
// Returns:
//   - Binner: the binner
//   - error: a kernel load or registration error
func NewBinner(dev device.Device) (Binner, error) {
	if dev == nil {
		panic("binning: NewBinner requires a device")
	}
	b := &binner{
		dev:       dev,
		providers: bind_group_provider.NewCache(),
	}
	hosts := []struct {
		name string
		fn   kernel.HostFunc
	}{
		{kernels.MemSet, hostMemSet},
		{kernels.GetGridHash, hostGridHash},
		{kernels.FindGridEdgeAndReorder, hostFindGridEdgeAndReorder},
		{kernels.ReorderAttributes, hostReorderAttributes},
	}
	ks := make([]kernel.Kernel, 0, len(hosts))
	for _, h := range hosts {
		k, err := dev.LoadKernel(h.name, h.fn)
		if err != nil {
			log.Printf("[Binning] failed to load %s: %v", h.name, err)
			return nil, err
		}
		ks = append(ks, k)
	}
	if err := dev.RegisterKernels(ks...); err != nil {
		log.Printf("[Binning] failed to register kernels: %v", err)
		return nil, err
	}
	return b, nil
}

func (b *binner) Hash(pos, keys, vals buffer.Buffer, p params.SimParams) error {
	n := uint64(p.PaddedBodies)
	if err := requireSizes(
		sized{pos, n * common.Vec4Size, "positions"},
		sized{keys, n * 4, "keys"},
		sized{vals, n * 4, "values"},
	); err != nil {
		log.Printf("[Binning] hash rejected: %v", err)
		return err
	}
	bg := b.providers.Provider("hash", map[int]buffer.Buffer{
		hashPos:  pos,
		hashKeys: keys,
		hashVals: vals,
	})
	return b.dispatch(kernels.GetGridHash, bg, p.Marshal(), p.PaddedBodies)
}

func (b *binner) Clear(tables CellTables, numCells uint32) error {
	if numCells == 0 {
		return nil
	}
	n := uint64(numCells) * 4
	if err := requireSizes(sized{tables.Start, n, "cell start"}, sized{tables.End, n, "cell end"}); err != nil {
		log.Printf("[Binning] clear rejected: %v", err)
		return err
	}
	fp := params.NewFillParams(params.EmptyCell, numCells)
	for _, t := range []struct {
		role string
		buf  buffer.Buffer
	}{{"clear.start", tables.Start}, {"clear.end", tables.End}} {
		bg := b.providers.Provider(t.role, map[int]buffer.Buffer{fillDst: t.buf})
		if err := b.dispatch(kernels.MemSet, bg, fp.Marshal(), numCells); err != nil {
			return err
		}
	}
	return nil
}

func (b *binner) ExtractAndReorder(tables CellTables, sorted KeyValues, in, out AgentBuffers, p params.SimParams) error {
	n := uint64(p.PaddedBodies)
	cells := uint64(p.NumCells) * 4
	checks := []sized{
		{tables.Start, cells, "cell start"},
		{tables.End, cells, "cell end"},
		{sorted.Keys, n * 4, "sorted keys"},
		{sorted.Vals, n * 4, "sorted values"},
		{in.Pos, n * common.Vec4Size, "positions"},
		{in.Vel, n * common.Vec4Size, "velocities"},
		{out.Pos, n * common.Vec4Size, "sorted positions"},
		{out.Vel, n * common.Vec4Size, "sorted velocities"},
	}
	gather := in.hasAttributes() && out.hasAttributes()
	if gather {
		checks = append(checks,
			sized{in.Goal, n * common.Vec4Size, "goals"},
			sized{in.Color, n * common.Vec4Size, "colors"},
			sized{out.Goal, n * common.Vec4Size, "sorted goals"},
			sized{out.Color, n * common.Vec4Size, "sorted colors"},
		)
	}
	if err := requireSizes(checks...); err != nil {
		log.Printf("[Binning] extract rejected: %v", err)
		return err
	}

	uniform := p.Marshal()
	bg := b.providers.Provider("extract", map[int]buffer.Buffer{
		edgeKeys:      sorted.Keys,
		edgeVals:      sorted.Vals,
		edgeStart:     tables.Start,
		edgeEnd:       tables.End,
		edgePos:       in.Pos,
		edgeVel:       in.Vel,
		edgeSortedPos: out.Pos,
		edgeSortedVel: out.Vel,
	})
	if err := b.dispatch(kernels.FindGridEdgeAndReorder, bg, uniform, p.PaddedBodies); err != nil {
		return err
	}
	if !gather {
		return nil
	}
	bg = b.providers.Provider("gather", map[int]buffer.Buffer{
		gatherVals:        sorted.Vals,
		gatherGoal:        in.Goal,
		gatherColor:       in.Color,
		gatherSortedGoal:  out.Goal,
		gatherSortedColor: out.Color,
	})
	return b.dispatch(kernels.ReorderAttributes, bg, uniform, p.PaddedBodies)
}

func (b *binner) Ranges(tables CellTables, numCells uint32) ([]CellRange, error) {
	if numCells == 0 {
		return nil, nil
	}
	n := uint64(numCells) * 4
	startBytes, err := b.dev.ReadBuffer(tables.Start, 0, n)
	if err != nil {
		log.Printf("[Binning] failed to read cell start: %v", err)
		return nil, err
	}
	endBytes, err := b.dev.ReadBuffer(tables.End, 0, n)
	if err != nil {
		log.Printf("[Binning] failed to read cell end: %v", err)
		return nil, err
	}
	start, end := common.UnmarshalUint32s(startBytes), common.UnmarshalUint32s(endBytes)

	var ranges []CellRange
	for c := range start {
		if start[c] == params.EmptyCell {
			continue
		}
		ranges = append(ranges, CellRange{Cell: uint32(c), Start: start[c], End: end[c]})
	}
	return ranges, nil
}

func (b *binner) Release() {
	b.providers.Release()
}

// dispatch runs a one-invocation-per-item kernel over items.
func (b *binner) dispatch(name string, bg bind_group_provider.BindGroupProvider, uniform []byte, items uint32) error {
	k := b.dev.Kernel(name)
	if k == nil {
		return fmt.Errorf("%w: %s", device.ErrUnknownKernel, name)
	}
	groups := common.DivCeil(items, k.LocalSize())
	if err := b.dev.Dispatch(name, bg, uniform, groups); err != nil {
		log.Printf("[Binning] %s over %d items failed: %v", name, items, err)
		return err
	}
	return nil
}

// sized pairs a buffer with the byte size a stage needs from it.
type sized struct {
	buf  buffer.Buffer
	need uint64
	what string
}

func requireSizes(checks ...sized) error {
	for _, c := range checks {
		if c.buf == nil {
			return fmt.Errorf("%w: no %s buffer", device.ErrInvalidDispatch, c.what)
		}
		if c.buf.Size() < c.need {
			return fmt.Errorf("%w: %s buffer %s has %d bytes, need %d", device.ErrBufferTooSmall, c.what, c.buf.Label(), c.buf.Size(), c.need)
		}
	}
	return nil
}
