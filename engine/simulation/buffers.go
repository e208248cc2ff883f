package simulation

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/binning"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// agentSet is one set of agent attribute buffers. The scratch set leaves goal and color nil.
type agentSet struct {
	pos, vel, goal, color buffer.Buffer
}

func (a agentSet) agentBuffers() binning.AgentBuffers {
	return binning.AgentBuffers{Pos: a.pos, Vel: a.vel, Goal: a.goal, Color: a.color}
}

// buffers holds every device buffer of one agent count and model.
type buffers struct {
	sets    [2]agentSet
	scratch agentSet

	keys, vals             buffer.Buffer
	sortedKeys, sortedVals buffer.Buffer
	start, end             buffer.Buffer
	obstacles              buffer.Buffer

	all []buffer.Buffer
}

// allocate creates the buffers for p and uploads the obstacles. Nothing is left allocated
// on failure.
func allocate(dev device.Device, p params.SimParams, obstacles []common.Vec4) (*buffers, error) {
	b := &buffers{}
	vec4s := uint64(p.PaddedBodies) * common.Vec4Size
	words := uint64(p.PaddedBodies) * 4
	cells := uint64(max(p.NumCells, 1)) * 4

	var err error
	create := func(label string, size uint64) buffer.Buffer {
		if err != nil {
			return nil
		}
		var buf buffer.Buffer
		if buf, err = dev.CreateBuffer(label, size); err != nil {
			return nil
		}
		b.all = append(b.all, buf)
		return buf
	}
	for i := range b.sets {
		b.sets[i] = agentSet{
			pos:   create(fmt.Sprintf("agents%d.pos", i), vec4s),
			vel:   create(fmt.Sprintf("agents%d.vel", i), vec4s),
			goal:  create(fmt.Sprintf("agents%d.goal", i), vec4s),
			color: create(fmt.Sprintf("agents%d.color", i), vec4s),
		}
	}
	b.scratch = agentSet{
		pos: create("sorted.pos", vec4s),
		vel: create("sorted.vel", vec4s),
	}
	b.keys = create("hash.keys", words)
	b.vals = create("hash.vals", words)
	b.sortedKeys = create("sorted.keys", words)
	b.sortedVals = create("sorted.vals", words)
	b.start = create("cells.start", cells)
	b.end = create("cells.end", cells)
	b.obstacles = create("obstacles", uint64(max(len(obstacles), 1))*common.Vec4Size)

	if err != nil {
		b.release()
		return nil, err
	}
	if len(obstacles) > 0 {
		if err := dev.WriteBuffer(b.obstacles, 0, common.MarshalVec4s(obstacles)); err != nil {
			b.release()
			return nil, err
		}
	}
	return b, nil
}

func (b *buffers) release() {
	for _, buf := range b.all {
		buf.Release()
	}
}
