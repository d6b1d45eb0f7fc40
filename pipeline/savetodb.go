package pipeline

import (
	"nostrengine.dev/cache"
	"nostrengine.dev/log"
)

// SaveToDb forwards a parsed projection to the Cache Worker and always
// passes the event through regardless of whether the save succeeded —
// grounded on save_to_db.rs's SaveToDbPipe, which discards AddEvent's
// error the same way ("let _ = ... add_event(...)").
type SaveToDb struct {
	worker *cache.Worker
}

// NewSaveToDb builds a SaveToDb pipe backed by worker.
func NewSaveToDb(worker *cache.Worker) *SaveToDb {
	return &SaveToDb{worker: worker}
}

func (s *SaveToDb) Process(e Event) (Output, error) {
	if e.Parsed != nil {
		if err := s.worker.AddEvent(e.Parsed); err != nil {
			log.D.F("pipeline: save %x to cache failed: %v", e.ID, err)
		}
	}
	return Forward(e), nil
}

// ProcessCachedBatch is never invoked — RunForCachedEvents is false — but
// is still needed to satisfy the Pipe interface. Identity pass-through.
func (s *SaveToDb) ProcessCachedBatch(batch [][]byte) ([][]byte, error) { return batch, nil }

func (s *SaveToDb) Name() string             { return "SaveToDb" }
func (s *SaveToDb) CanDirectOutput() bool    { return false }
func (s *SaveToDb) RunForCachedEvents() bool { return false }
