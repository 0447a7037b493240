// Package remedial turns repeated mistakes on one topic into a required
// review chapter.
package remedial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

// Config holds dependencies for the trigger.
type Config struct {
	Store       learning.Store
	Synthesizer synthesis.Synthesizer
	Events      learning.EventLogger
	Policy      learning.Policy
	Now         func() time.Time
}

// Trigger groups unaddressed mistakes by topic and creates remedial chapters.
type Trigger struct {
	store  learning.Store
	synth  synthesis.Synthesizer
	events learning.EventLogger
	policy learning.Policy
	now    func() time.Time
}

// New creates a remedial trigger.
func New(cfg Config) *Trigger {
	events := cfg.Events
	if events == nil {
		events = learning.NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Trigger{
		store:  cfg.Store,
		synth:  cfg.Synthesizer,
		events: events,
		policy: cfg.Policy.WithDefaults(),
		now:    now,
	}
}

// Group is the set of unaddressed mistakes sharing a topic key.
type Group struct {
	Key string
	// Topic is the label of the oldest mistake in the group.
	Topic    string
	Mistakes []learning.Mistake
}

// IDs returns the mistake IDs of the group in creation order.
func (g Group) IDs() []string {
	ids := make([]string, len(g.Mistakes))
	for i, m := range g.Mistakes {
		ids[i] = m.ID
	}
	return ids
}

// Eligible returns topics with at least the threshold of unaddressed
// mistakes and no open remedial chapter, ordered by topic key.
func (t *Trigger) Eligible(ctx context.Context, tx learning.Tx) ([]Group, error) {
	mistakes, err := tx.UnaddressedMistakes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mistakes: %w", err)
	}
	remedials, err := tx.UnitsByKind(ctx, learning.KindRemedial)
	if err != nil {
		return nil, fmt.Errorf("list remedials: %w", err)
	}
	open := make(map[string]bool)
	for _, u := range remedials {
		if !u.IsCompleted {
			open[learning.TopicKey(u.Topic)] = true
		}
	}

	byKey := make(map[string]*Group)
	for _, m := range mistakes {
		key := learning.TopicKey(m.Topic)
		if key == "" {
			continue
		}
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Topic: m.Topic}
			byKey[key] = g
		}
		g.Mistakes = append(g.Mistakes, m)
	}

	var out []Group
	for key, g := range byKey {
		if open[key] || len(g.Mistakes) < t.policy.MistakeThreshold {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// OnMistakeRecorded creates a remedial chapter for every eligible topic and
// returns the new unit IDs. Content is synthesized outside the learner
// transaction. A topic whose synthesis fails is skipped with its mistakes left
// unaddressed, and the returned error wraps synthesis.ErrContentPending.
func (t *Trigger) OnMistakeRecorded(ctx context.Context, learnerID string) ([]string, error) {
	var groups []Group
	err := t.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		groups, err = t.Eligible(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("check mistakes: %w", err)
	}

	var created []string
	var pending []error
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		content, err := t.synthesize(ctx, g)
		if err != nil {
			slog.Warn("remedial synthesis failed",
				"learner_id", learnerID,
				"topic", g.Topic,
				"error", err,
			)
			learning.Emit(t.events, learnerID, learning.EventContentPending, map[string]any{
				"kind":  "remedial",
				"topic": g.Topic,
			})
			pending = append(pending, fmt.Errorf("topic %q: %w", g.Topic, err))
			continue
		}

		id, err := t.persist(ctx, learnerID, g, content)
		if err != nil {
			return created, fmt.Errorf("create remedial for %q: %w", g.Topic, err)
		}
		if id == "" {
			continue
		}
		created = append(created, id)
		learning.Emit(t.events, learnerID, learning.EventRemedialCreated, map[string]any{
			"unit_id":  id,
			"topic":    g.Topic,
			"mistakes": len(g.Mistakes),
		})
		slog.Info("remedial chapter created",
			"learner_id", learnerID,
			"unit_id", id,
			"topic", g.Topic,
		)
	}

	if len(pending) > 0 {
		return created, fmt.Errorf("%w: %w", synthesis.ErrContentPending, errors.Join(pending...))
	}
	return created, nil
}

func (t *Trigger) synthesize(ctx context.Context, g Group) (synthesis.RemedialContent, error) {
	if t.synth == nil {
		return synthesis.RemedialContent{}, errors.New("no synthesizer configured")
	}
	sctx, cancel := context.WithTimeout(ctx, t.policy.SynthesisTimeout)
	defer cancel()

	samples := make([]synthesis.MistakeSample, 0, len(g.Mistakes))
	for _, m := range g.Mistakes {
		samples = append(samples, synthesis.MistakeSample{
			Topic:     m.Topic,
			Source:    string(m.Source),
			SourceRef: m.SourceRef,
		})
	}
	content, err := t.synth.SynthesizeRemedial(sctx, g.Topic, samples)
	if err != nil {
		return content, err
	}
	if len(content.Exercises) == 0 {
		return content, errors.New("remedial content has no exercises")
	}
	return content, nil
}

// persist re-checks the group and, if still eligible, stores the remedial
// chapter and marks the contributing mistakes addressed. It returns "" when
// the group stopped being eligible in the meantime.
func (t *Trigger) persist(ctx context.Context, learnerID string, g Group, content synthesis.RemedialContent) (string, error) {
	var id string
	err := t.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		current, err := t.Eligible(ctx, tx)
		if err != nil {
			return err
		}
		var still *Group
		for i := range current {
			if current[i].Key == g.Key {
				still = &current[i]
				break
			}
		}
		if still == nil {
			return nil
		}
		open := make(map[string]bool, len(still.Mistakes))
		for _, m := range still.Mistakes {
			open[m.ID] = true
		}
		var contributing []string
		for _, m := range g.Mistakes {
			if open[m.ID] {
				contributing = append(contributing, m.ID)
			}
		}
		if len(contributing) < t.policy.MistakeThreshold {
			return nil
		}

		title := content.Title
		if title == "" {
			title = "Review: " + g.Topic
		}
		u := &learning.LearningUnit{
			Kind:           learning.KindRemedial,
			Title:          title,
			Topic:          g.Topic,
			MistakeIDs:     contributing,
			IsRequired:     true,
			BlocksProgress: true,
			CreatedAt:      t.now(),
			Exercises:      synthesis.ExerciseUnits(content.Exercises, g.Topic),
		}
		if err := tx.CreateUnit(ctx, u); err != nil {
			return fmt.Errorf("create unit: %w", err)
		}
		if err := tx.MarkMistakesAddressed(ctx, contributing); err != nil {
			return fmt.Errorf("mark mistakes addressed: %w", err)
		}
		id = u.ID
		return nil
	})
	return id, err
}
