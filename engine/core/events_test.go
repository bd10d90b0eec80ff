package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventsStopAtFirstHandler(t *testing.T) {
	EventInitialize()
	defer EventShutdown()

	var calls []string
	first, second := "first", "second"
	handler := func(name string, handled bool) FnOnEvent {
		return func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool {
			calls = append(calls, name)
			return handled
		}
	}

	assert.True(t, EventRegister(EVENT_CODE_RESIZED, first, handler(first, true)))
	assert.True(t, EventRegister(EVENT_CODE_RESIZED, second, handler(second, false)))
	assert.False(t, EventRegister(EVENT_CODE_RESIZED, first, handler(first, true)))

	ctx := EventContext{}
	ctx.Data.U32[0] = 800
	assert.True(t, EventFire(EVENT_CODE_RESIZED, nil, ctx))
	assert.Equal(t, []string{first}, calls)

	assert.True(t, EventUnregister(EVENT_CODE_RESIZED, first))
	assert.False(t, EventFire(EVENT_CODE_RESIZED, nil, ctx))
	assert.Equal(t, []string{first, second}, calls)
}

func TestEventPayload(t *testing.T) {
	EventInitialize()
	defer EventShutdown()

	var got [2]uint32
	EventRegister(EVENT_CODE_FRAME_SLOT_WAIT, t, func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool {
		got = [2]uint32{data.Data.U32[0], data.Data.U32[1]}
		return true
	})
	ctx := EventContext{}
	ctx.Data.U32[0] = 2
	ctx.Data.U32[1] = 7
	EventFire(EVENT_CODE_FRAME_SLOT_WAIT, nil, ctx)
	assert.Equal(t, [2]uint32{2, 7}, got)
}
