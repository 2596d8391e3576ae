package cascade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"conservatory/internal/blob"
	"conservatory/internal/cache"
	"conservatory/internal/observability"
	"conservatory/pkg/domain"
)

// Snapshot is the full capture of a cascade's records taken before any
// mutation. Relation records are captured in their pre-strip state.
type Snapshot struct {
	ID          string                    `json:"id"`
	Root        domain.EntityRef          `json:"root"`
	TakenAt     time.Time                 `json:"takenAt"`
	Reason      string                    `json:"reason,omitempty"`
	Plan        domain.DeletionPlan       `json:"plan"`
	Persons     []domain.Person           `json:"persons,omitempty"`
	Groups      []domain.Group            `json:"groups,omitempty"`
	Lessons     []domain.Lesson           `json:"lessons,omitempty"`
	Rehearsals  []domain.Rehearsal        `json:"rehearsals,omitempty"`
	Attendance  []domain.AttendanceRecord `json:"attendance,omitempty"`
	Documents   []domain.Document         `json:"documents,omitempty"`
	Assessments []domain.Assessment       `json:"assessments,omitempty"`
}

// SnapshotKey returns the blob key for a snapshot of root.
func SnapshotKey(prefix string, root domain.EntityRef, id string) string {
	return path.Join(prefix, string(root.Type), root.ID, id+".json")
}

func (g *graph) snapshot(id string, plan domain.DeletionPlan, reason string, now time.Time) Snapshot {
	s := Snapshot{
		ID:          id,
		Root:        g.root,
		TakenAt:     now,
		Reason:      reason,
		Plan:        plan,
		Groups:      g.groups,
		Lessons:     g.lessons,
		Rehearsals:  g.rehearsals,
		Attendance:  g.attendance,
		Documents:   g.documents,
		Assessments: g.assessments,
	}
	switch g.root.Type {
	case domain.EntityPerson:
		s.Persons = append([]domain.Person{g.person}, g.assignees...)
	case domain.EntityGroup:
		s.Groups = []domain.Group{g.group}
		s.Persons = g.members
	case domain.EntityLesson:
		s.Lessons = []domain.Lesson{g.lesson}
		s.Persons = g.members
	}
	return s
}

func (p *Planner) writeSnapshot(ctx context.Context, g *graph, plan domain.DeletionPlan, reason string) (string, error) {
	if p.blobs == nil {
		return "", errors.New("snapshot requested but no blob store is configured")
	}
	id := uuid.NewString()
	snap := g.snapshot(id, plan, reason, p.hooks.Clock.Now())
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := SnapshotKey(p.policy.SnapshotPrefix, g.root, id)
	if _, err := p.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"root-type": string(g.root.Type), "root-id": g.root.ID},
	}); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", key, err)
	}
	p.hooks.Logger.Info("snapshot written", "root", g.root.String(), "key", key, "bytes", len(data))
	return key, nil
}

// Restorer re-inserts the records captured in a snapshot. It is the manual
// recovery path after a completed or partially failed cascade.
type Restorer struct {
	backend domain.RecordWriter
	blobs   blob.Store
	prefix  string
	cache   *cache.Cache
	hooks   observability.Hooks
}

// NewRestorer builds a restorer reading snapshots under the policy prefix.
func NewRestorer(backend domain.RecordWriter, blobs blob.Store, policy Policy, c *cache.Cache, hooks observability.Hooks) *Restorer {
	return &Restorer{backend: backend, blobs: blobs, prefix: policy.SnapshotPrefix, cache: c, hooks: hooks.WithDefaults()}
}

// Load reads and decodes a snapshot.
func (r *Restorer) Load(ctx context.Context, key string) (Snapshot, error) {
	_, rc, err := r.blobs.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// List returns the snapshots taken for root, oldest key first.
func (r *Restorer) List(ctx context.Context, root domain.EntityRef) ([]blob.Info, error) {
	return r.blobs.List(ctx, path.Join(r.prefix, string(root.Type), root.ID)+"/")
}

// DownloadURL returns a presigned URL for the snapshot blob.
func (r *Restorer) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return r.blobs.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
}

// Restore upserts every record in the snapshot, parents before children.
// Restoring twice yields the same state.
func (r *Restorer) Restore(ctx context.Context, key string) (Snapshot, error) {
	var snap Snapshot
	err := r.hooks.Run(ctx, "cascade.restore", func(ctx context.Context) error {
		var err error
		if snap, err = r.Load(ctx, key); err != nil {
			return err
		}
		return r.put(ctx, snap)
	})
	return snap, err
}

func (r *Restorer) put(ctx context.Context, s Snapshot) error {
	for _, p := range s.Persons {
		if _, err := r.backend.PutPerson(ctx, p); err != nil {
			return fmt.Errorf("restore person %s: %w", p.ID, err)
		}
		r.evict(domain.EntityPerson, p.ID)
	}
	for _, g := range s.Groups {
		if _, err := r.backend.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("restore group %s: %w", g.ID, err)
		}
		r.evict(domain.EntityGroup, g.ID)
	}
	for _, l := range s.Lessons {
		if _, err := r.backend.PutLesson(ctx, l); err != nil {
			return fmt.Errorf("restore lesson %s: %w", l.ID, err)
		}
		r.evict(domain.EntityLesson, l.ID)
	}
	for _, reh := range s.Rehearsals {
		if _, err := r.backend.PutRehearsal(ctx, reh); err != nil {
			return fmt.Errorf("restore rehearsal %s: %w", reh.ID, err)
		}
	}
	for _, a := range s.Assessments {
		if _, err := r.backend.PutAssessment(ctx, a); err != nil {
			return fmt.Errorf("restore assessment %s: %w", a.ID, err)
		}
	}
	for _, d := range s.Documents {
		if _, err := r.backend.PutDocument(ctx, d); err != nil {
			return fmt.Errorf("restore document %s: %w", d.ID, err)
		}
	}
	for _, a := range s.Attendance {
		if _, err := r.backend.PutAttendance(ctx, a); err != nil {
			return fmt.Errorf("restore attendance %s: %w", a.ID, err)
		}
	}
	r.hooks.Logger.Info("snapshot restored", "root", s.Root.String(), "snapshot", s.ID)
	return nil
}

func (r *Restorer) evict(t domain.EntityType, id string) {
	if r.cache != nil {
		r.cache.Evict(domain.EntityRef{Type: t, ID: id})
	}
}
