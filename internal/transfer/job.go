package transfer

import (
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/dmitrijs2005/uploadkeeper/internal/sources"
)

// Job is one transfer of one source, identified by its content hash. Its
// uploaded set and record are guarded by mu; every mutation is persisted
// before mu is released.
type Job struct {
	event  models.SourceEvent
	source sources.Source
	hash   string
	size   int64

	mu       sync.Mutex
	rec      *models.ResumeRecord
	plan     []models.Chunk
	uploaded map[int]struct{}
}

func newJob(event models.SourceEvent, src sources.Source, hash string, rec *models.ResumeRecord) *Job {
	j := &Job{event: event, source: src, hash: hash, size: rec.FileSize}
	j.adopt(rec)
	return j
}

// adopt replaces the job's state with rec. Indices outside the plan are
// dropped. Caller holds mu or owns the job exclusively.
func (j *Job) adopt(rec *models.ResumeRecord) {
	j.rec = rec.Clone()
	j.plan = PlanChunks(rec.FileSize, rec.ChunkSize)
	j.rec.ChunkCount = len(j.plan)

	j.uploaded = make(map[int]struct{}, len(rec.UploadedChunks))
	for _, idx := range rec.UploadedChunks {
		if idx >= 0 && idx < len(j.plan) {
			j.uploaded[idx] = struct{}{}
		}
	}
	j.syncRecord()
}

// syncRecord derives the uploaded list and progress from the set.
func (j *Job) syncRecord() {
	list := make([]int, 0, len(j.uploaded))
	for idx := range j.uploaded {
		list = append(list, idx)
	}
	slices.Sort(list)
	j.rec.UploadedChunks = list
	j.rec.Progress = models.Percent(len(list), len(j.plan))
}

func (j *Job) ContentHash() string { return j.hash }
func (j *Job) Size() int64         { return j.size }
func (j *Job) Event() models.SourceEvent {
	return j.event
}

func (j *Job) SourceRef() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.SourceRef
}

func (j *Job) Status() models.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Status
}

// Record returns a copy of the job's current resume record.
func (j *Job) Record() *models.ResumeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Clone()
}

func (j *Job) Plan() []models.Chunk {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.plan)
}

// Close releases the open source.
func (j *Job) Close() error {
	if j.source == nil {
		return nil
	}
	return j.source.Close()
}

func (j *Job) missing() []models.Chunk {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.Chunk
	for _, c := range j.plan {
		if _, ok := j.uploaded[c.Index]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (j *Job) complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.uploaded) == len(j.plan)
}

// update applies fn to the record under mu, stamps it and returns a
// snapshot for persistence.
func (j *Job) update(now time.Time, fn func(rec *models.ResumeRecord)) *models.ResumeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j.rec)
	j.rec.LastUpdated = now
	return j.rec.Clone()
}

func (j *Job) progress(err error) models.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.Progress{
		SourceRef:   j.rec.SourceRef,
		ContentHash: j.hash,
		Percent:     j.rec.Progress,
		Status:      j.rec.Status,
		Err:         err,
	}
}
