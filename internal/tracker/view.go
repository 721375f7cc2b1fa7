package tracker

// View mirrors the store. Session calls views in registration order while
// holding its lock, so a view sees samples in store order and must not call
// back into the session.
type View interface {
	// SampleAdded runs after s has been appended; all is the full store.
	SampleAdded(s Sample, all []Sample)
	Cleared()
}

// ViewFuncs adapts plain functions to View. Nil fields are skipped.
type ViewFuncs struct {
	OnSample func(s Sample, all []Sample)
	OnClear  func()
}

func (v ViewFuncs) SampleAdded(s Sample, all []Sample) {
	if v.OnSample != nil {
		v.OnSample(s, all)
	}
}

func (v ViewFuncs) Cleared() {
	if v.OnClear != nil {
		v.OnClear()
	}
}
