package agentloop

import "testing"

func TestEventEmitter(t *testing.T) {
	var nilEmitter *EventEmitter
	nilEmitter.Emit(EventError, nil)
	nilEmitter.Close()

	e := NewEventEmitter("s1", 1)
	e.Emit(EventUserInput, map[string]any{"content": "hi"})
	e.Emit(EventUserInput, map[string]any{"content": "dropped"})
	e.Close()
	e.Close()
	e.Emit(EventError, nil)

	var got []SessionEvent
	for ev := range e.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Data["content"] != "hi" || got[0].SessionID != "s1" {
		t.Errorf("unexpected events %+v", got)
	}
}
