package optim

import "math"

// CosineAnnealing decays the optimizer's learning rate from its base value to
// zero over tMax steps following a half cosine. Step is called once per batch
// and writes the absolute rate for the current step, so composing schedulers
// must run after it within the same batch.
type CosineAnnealing struct {
	opt  *Adam
	base float64
	tMax int
	t    int
}

// NewCosineAnnealing sizes the schedule to tMax optimizer steps, capturing
// the optimizer's current rate as the base.
func NewCosineAnnealing(opt *Adam, tMax int) *CosineAnnealing {
	if tMax < 1 {
		tMax = 1
	}
	return &CosineAnnealing{opt: opt, base: opt.LR(), tMax: tMax}
}

// Step advances the schedule and applies the annealed rate.
func (s *CosineAnnealing) Step() {
	if s.t < s.tMax {
		s.t++
	}
	lr := s.base / 2 * (1 + math.Cos(math.Pi*float64(s.t)/float64(s.tMax)))
	s.opt.SetLR(lr)
}

// T returns the number of steps taken, for continue checkpoints.
func (s *CosineAnnealing) T() int { return s.t }

// SetT fast-forwards the schedule to a previously recorded step count.
func (s *CosineAnnealing) SetT(t int) {
	if t < 0 {
		t = 0
	}
	if t > s.tMax {
		t = s.tMax
	}
	s.t = t
}

// LinearWarmup dampens the learning rate during the first optimization steps
// by the factor min(1, t/period). The untuned period is derived from the
// optimizer's second-moment coefficient, 2/(1-beta2), which matches the
// common rule of thumb for Adam warmup.
type LinearWarmup struct {
	opt    *Adam
	period float64
	t      int
}

// NewLinearWarmup creates a warmup with the untuned period for opt.
func NewLinearWarmup(opt *Adam) *LinearWarmup {
	return &LinearWarmup{opt: opt, period: 2.0 / (1.0 - opt.Beta2())}
}

// Dampen advances the warmup and scales whatever rate the annealing schedule
// set for this step.
func (w *LinearWarmup) Dampen() {
	w.t++
	factor := float64(w.t) / w.period
	if factor > 1 {
		factor = 1
	}
	w.opt.SetLR(w.opt.LR() * factor)
}

// T returns the number of steps taken, for continue checkpoints.
func (w *LinearWarmup) T() int { return w.t }

// SetT fast-forwards the warmup to a previously recorded step count.
func (w *LinearWarmup) SetT(t int) {
	if t < 0 {
		t = 0
	}
	w.t = t
}
