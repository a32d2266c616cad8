package pipeline

import (
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/ipc"
	"cs2-demo-pipeline/internal/moments"
	"cs2-demo-pipeline/internal/sampler"
	"cs2-demo-pipeline/internal/sink"
	"cs2-demo-pipeline/internal/summary"
)

// demoHandler fans the parser's output into the sink session, the track
// and event caches used for summaries and the moment detector.
type demoHandler struct {
	demo     string
	sess     *sink.Session
	out      *ipc.Output
	tracks   *summary.Tracks
	cache    *events.Cache
	detector *moments.Detector
}

func newDemoHandler(matchID, demo string, sess *sink.Session, out *ipc.Output) *demoHandler {
	return &demoHandler{
		demo:     demo,
		sess:     sess,
		out:      out,
		tracks:   summary.NewTracks(),
		cache:    &events.Cache{},
		detector: moments.NewDetector(matchID),
	}
}

func (h *demoHandler) Snapshots(batch []sampler.Snapshot) error {
	h.tracks.AddBatch(batch)
	return h.sess.Snapshots(batch)
}

func (h *demoHandler) Event(e events.Event) error {
	h.cache.Add(e)
	h.detector.Handle(e)
	return nil
}

func (h *demoHandler) Progress(tick uint32, pct float64) {
	h.out.Progress(ipc.StageParse, h.demo, tick, pct)
}
