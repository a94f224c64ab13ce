package sink

import "github.com/vmelniki2828/qodeq-finder/internal/core"

type broadcaster interface {
	Broadcast(core.Finding)
}

// WithBroadcast archives a finding, then pushes it to live API streams.
type WithBroadcast struct {
	*SQLiteSink
	api broadcaster
}

func WithAPI(base *SQLiteSink, api broadcaster) *WithBroadcast {
	return &WithBroadcast{SQLiteSink: base, api: api}
}

func (w *WithBroadcast) Write(f core.Finding) error {
	if err := w.SQLiteSink.Write(f); err != nil {
		return err
	}
	if w.api != nil {
		w.api.Broadcast(f)
	}
	return nil
}
