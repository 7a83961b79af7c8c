package session

import (
	"context"
	"log/slog"

	"github.com/wardline/companion-agent/pkg/companion/agent"
)

// ResumeAnnouncement is spoken once when a supervisor hands the
// conversation back. Event-triggered and poll-triggered resumes share it.
const ResumeAnnouncement = "네, 어르신. 저 다시 왔어요. 하시던 이야기 계속 들려주세요."

// resumer is implemented by runtimes whose Interrupt also suppresses
// subsequent turns until explicitly lifted.
type resumer interface {
	Resume()
}

// PauseController translates takeover transitions into agent control
// actions. It does not roll back output already committed by the runtime;
// an interrupt only prevents new output.
type PauseController struct {
	runtime agent.Runtime
	active  func() bool
	logger  *slog.Logger
}

func NewPauseController(runtime agent.Runtime, active func() bool, logger *slog.Logger) *PauseController {
	return &PauseController{runtime: runtime, active: active, logger: logger}
}

// OnPause interrupts the runtime and clears any pending partial user
// utterance so it is not misattributed after the takeover window.
func (p *PauseController) OnPause() {
	p.logger.Info("pausing agent for supervisor takeover")
	p.runtime.Interrupt()
	p.runtime.ClearUserTurn()
}

// OnResume lifts interrupt suppression when the runtime supports it and
// speaks the resume announcement.
func (p *PauseController) OnResume(ctx context.Context) {
	p.logger.Info("resuming agent after supervisor takeover")
	if r, ok := p.runtime.(resumer); ok {
		r.Resume()
	}
	if err := p.runtime.Say(ctx, ResumeAnnouncement); err != nil {
		p.logger.Warn("resume announcement failed", "error", err)
	}
}

// ShouldDiscardSpeech reports whether a user utterance arriving now must
// be dropped. The decision reads the takeover state at processing time;
// it is not retroactive.
func (p *PauseController) ShouldDiscardSpeech() bool {
	return p.active()
}
