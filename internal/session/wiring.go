package session

import (
	"time"

	"github.com/avplayer/playcore/internal/classifier"
	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// attachSinkEvents subscribes once, for the Engine's lifetime, to every
// video-sink event named in §6 and maps each onto a C4 transition (where
// applicable) plus a republished engine-level event. Mappings gated by
// CanTransitionTo silently drop when the sink's report does not make
// sense for the current state, per §4.9 ("all through C4's legality
// check, dropping illegal mappings").
func (e *Engine) attachSinkEvents() []eventbus.Unsubscribe {
	passthrough := func(event string) eventbus.Unsubscribe {
		return e.sink.On(event, func(payload any) { e.bus.Emit(event, payload) })
	}

	return []eventbus.Unsubscribe{
		e.sink.On("playing", func(any) {
			if e.state.CanTransitionTo(models.StatePlaying) {
				e.state.TransitionTo(models.StatePlaying, models.ActionResume)
			}
		}),
		e.sink.On("pause", func(any) {
			if e.state.CanTransitionTo(models.StatePaused) {
				e.state.TransitionTo(models.StatePaused, models.ActionPause)
			}
		}),
		e.sink.On("waiting", func(payload any) {
			if e.state.CanTransitionTo(models.StateBuffering) {
				e.state.TransitionTo(models.StateBuffering, models.ActionStall)
			}
			e.bus.Emit(EventWaiting, payload)
		}),
		e.sink.On("canplay", func(payload any) {
			if e.state.State() == models.StateBuffering {
				e.state.TransitionTo(models.StatePlaying, models.ActionResume)
			}
			e.bus.Emit(EventCanPlay, payload)
		}),
		e.sink.On("ended", func(payload any) {
			if e.state.CanTransitionTo(models.StateEnded) {
				e.state.TransitionTo(models.StateEnded, models.ActionEnd)
			}
			e.bus.Emit(EventEnded, payload)
		}),
		e.sink.On("timeupdate", func(payload any) { e.onSinkTimeUpdate(payload) }),
		e.sink.On("error", func(payload any) { e.onSinkError(payload) }),
		passthrough("durationchange"),
		// seeking is published by Engine.Seek itself (SeekingPayload, with
		// the caller's requested target); only the sink's completion event
		// is passed through here.
		passthrough("seeked"),
		passthrough("volumechange"),
		passthrough("ratechange"),
		passthrough("loadedmetadata"),
		passthrough("progress"),
		e.bus.Subscribe("bufferupdate", func(p any) { e.onBufferUpdate(p.(models.BufferInfo)) }),
	}
}

func (e *Engine) onSinkTimeUpdate(payload any) {
	currentTime := e.sink.CurrentTime()
	if ct, ok := payload.(float64); ok {
		currentTime = ct
	}
	e.buffer.OnTimeUpdate(currentTime, e.sink.Buffered())
	e.bus.Emit(EventTimeUpdate, TimeUpdatePayload{CurrentTime: currentTime})
}

func (e *Engine) onBufferUpdate(info models.BufferInfo) {
	e.mu.Lock()
	abrCtrl := e.abrCtrl
	e.mu.Unlock()
	if abrCtrl != nil {
		abrCtrl.OnBufferUpdate(info.ForwardBuffer, time.Now())
	}
}

func (e *Engine) onSinkError(payload any) {
	e.mu.Lock()
	myID := e.loadID
	e.mu.Unlock()

	switch p := payload.(type) {
	case SinkErrorPayload:
		code := p.Code
		if code == "" {
			code = classifier.FromMessage(p.Message)
		}
		e.onAdapterError(myID, code, p.Message, p.Cause)
	case error:
		e.onAdapterError(myID, classifier.FromMessage(p.Error()), p.Error(), p)
	default:
		e.logger.Warn("sink error event with unrecognized payload shape")
	}
}
