package headless

import (
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// executeCommand runs on a queue goroutine. It keeps the device's view of
// resource states in sync and moves bytes for copies.
func (d *Device) executeCommand(c Command) {
	switch c.Op {
	case OpResourceBarrier:
		d.count(func(s *Stats) {
			s.BarrierBatches++
			s.Barriers += uint64(len(c.Barriers))
		})
		for _, b := range c.Barriers {
			d.applyBarrier(b)
		}
	case OpDraw, OpDrawIndexed:
		d.count(func(s *Stats) { s.Draws++ })
	case OpDispatch, OpDispatchRays:
		d.count(func(s *Stats) { s.Dispatches++ })
	case OpCopyResource:
		d.copyResource(c.Dst, c.Src)
	case OpCopyBufferRegion:
		d.copyRegion(c.Dst, c.DstOffset, c.Src, c.SrcOffset, c.NumBytes)
	}
}

func (d *Device) applyBarrier(b gpu.Barrier) {
	switch b.Type {
	case gpu.BarrierTypeTransition:
		r, ok := b.Resource.(*Resource)
		if !ok {
			d.report("transition barrier on a foreign resource %T", b.Resource)
			return
		}
		current := d.gpuState(r)
		if b.Flags == gpu.BarrierFlagEndOnly {
			if r.splitAfter != b.After || r.splitBefore != b.Before {
				d.report("end barrier on %s (%s -> %s) has no matching begin", r.Name(), b.Before, b.After)
			}
			r.splitBefore, r.splitAfter = gpu.ResourceStateUnknown, gpu.ResourceStateUnknown
			d.setGPUState(r, b.After)
			return
		}
		if current != b.Before {
			d.report("barrier on %s claims state %s but the resource is in %s", r.Name(), b.Before, current)
		}
		if b.Before == b.After {
			d.report("redundant transition barrier on %s (%s)", r.Name(), b.After)
		}
		if b.Flags == gpu.BarrierFlagBeginOnly {
			r.splitBefore, r.splitAfter = b.Before, b.After
			return
		}
		d.setGPUState(r, b.After)
	case gpu.BarrierTypeUAV:
		if b.Resource == nil {
			return
		}
		r, ok := b.Resource.(*Resource)
		if ok && d.gpuState(r) != gpu.ResourceStateUnorderedAccess {
			d.report("UAV barrier on %s which is in %s", r.Name(), d.gpuState(r))
		}
	case gpu.BarrierTypeAliasing:
		if b.AliasBefore == nil && b.AliasAfter == nil {
			d.report("aliasing barrier without resources")
		}
	}
}

func (d *Device) copyResource(dst, src gpu.Resource) {
	d.count(func(s *Stats) { s.Copies++ })
	rd, okd := dst.(*Resource)
	rs, oks := src.(*Resource)
	if !okd || !oks {
		d.report("CopyResource with foreign resources")
		return
	}
	if st := d.gpuState(rd); st != gpu.ResourceStateCopyDest {
		d.report("CopyResource: destination %s is in %s", rd.Name(), st)
	}
	if st := d.gpuState(rs); st&gpu.ResourceStateCopySource == 0 {
		d.report("CopyResource: source %s is in %s", rs.Name(), st)
	}
	if rd.desc.SizeInBytes() != rs.desc.SizeInBytes() {
		d.report("CopyResource: size mismatch %d vs %d", rd.desc.SizeInBytes(), rs.desc.SizeInBytes())
		return
	}
	if rd.data == nil || rs.data == nil {
		return
	}
	rs.mu.Lock()
	buf := append([]byte(nil), rs.data...)
	rs.mu.Unlock()
	rd.mu.Lock()
	copy(rd.data, buf)
	rd.mu.Unlock()
}

func (d *Device) copyRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, numBytes uint64) {
	d.count(func(s *Stats) { s.Copies++ })
	rd, okd := dst.(*Resource)
	rs, oks := src.(*Resource)
	if !okd || !oks {
		d.report("CopyBufferRegion with foreign resources")
		return
	}
	if st := d.gpuState(rd); st != gpu.ResourceStateCopyDest {
		d.report("CopyBufferRegion: destination %s is in %s", rd.Name(), st)
	}
	if srcOffset+numBytes > uint64(len(rs.data)) || dstOffset+numBytes > uint64(len(rd.data)) {
		d.report("CopyBufferRegion: range out of bounds (%d bytes from %d into %d)", numBytes, srcOffset, dstOffset)
		return
	}
	rs.mu.Lock()
	buf := append([]byte(nil), rs.data[srcOffset:srcOffset+numBytes]...)
	rs.mu.Unlock()
	rd.mu.Lock()
	copy(rd.data[dstOffset:], buf)
	rd.mu.Unlock()
}
