package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/suPer8Hu/momento/internal/store"
)

var ErrQuestionIDCollision = errors.New("chat: question id already in use")

// Repo reads and writes the chat records of the shared store.
type Repo struct {
	st store.Store
}

func NewRepo(st store.Store) *Repo {
	return &Repo{st: st}
}

func (r *Repo) Store() store.Store { return r.st }

// CreatePrompt writes the job record only if nothing is stored under its id.
func (r *Repo) CreatePrompt(ctx context.Context, p Prompt) error {
	collided := false
	_, err := r.st.Transaction(ctx, PromptPath(p.QuestionID), func(cur store.Snapshot) (any, error) {
		if cur.Exists() {
			collided = true
			return cur.Raw, nil
		}
		collided = false
		return p, nil
	})
	if err != nil {
		return fmt.Errorf("write prompt %s: %w", p.QuestionID, err)
	}
	if collided {
		return fmt.Errorf("write prompt %s: %w", p.QuestionID, ErrQuestionIDCollision)
	}
	return nil
}

// CreateCondition installs c unless the worker already wrote a condition.
// It reports whether c was installed.
func (r *Repo) CreateCondition(ctx context.Context, c Condition) (bool, error) {
	created := false
	_, err := r.st.Transaction(ctx, ConditionPath(c.QuestionID), func(cur store.Snapshot) (any, error) {
		if cur.Exists() {
			created = false
			return cur.Raw, nil
		}
		created = true
		return c, nil
	})
	if err != nil {
		return false, fmt.Errorf("create condition %s: %w", c.QuestionID, err)
	}
	return created, nil
}

// GetUser returns the user record, or nil when there is none.
func (r *Repo) GetUser(ctx context.Context, uid string) (*User, error) {
	snap, err := r.st.Get(ctx, UserPath(uid))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", uid, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	var u User
	if err := snap.Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	return &u, nil
}

// GetCondition returns nil when no condition record exists.
func (r *Repo) GetCondition(ctx context.Context, questionID string) (*Condition, error) {
	snap, err := r.st.Get(ctx, ConditionPath(questionID))
	if err != nil {
		return nil, fmt.Errorf("get condition %s: %w", questionID, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	var c Condition
	if err := snap.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode condition %s: %w", questionID, err)
	}
	return &c, nil
}

// PutUser overwrites the whole user record. Concurrent writers race and the
// last one wins.
func (r *Repo) PutUser(ctx context.Context, u User) error {
	if err := r.st.Set(ctx, UserPath(u.UID), u); err != nil {
		return fmt.Errorf("put user %s: %w", u.UID, err)
	}
	return nil
}

func (r *Repo) RemoveResult(ctx context.Context, questionID string) error {
	return r.st.Remove(ctx, ResultPath(questionID))
}

func (r *Repo) RemoveCondition(ctx context.Context, questionID string) error {
	return r.st.Remove(ctx, ConditionPath(questionID))
}

func (r *Repo) WatchCondition(ctx context.Context, questionID string, fn func(store.Snapshot)) (store.Subscription, error) {
	return r.st.Subscribe(ctx, ConditionPath(questionID), fn)
}

func (r *Repo) WatchResult(ctx context.Context, questionID string, fn func(store.Snapshot)) (store.Subscription, error) {
	return r.st.Subscribe(ctx, ResultPath(questionID), fn)
}

func (r *Repo) WatchServerStatus(ctx context.Context, fn func(store.Snapshot)) (store.Subscription, error) {
	return r.st.Subscribe(ctx, ServerStatusPath, fn)
}

func (r *Repo) SetServerStatus(ctx context.Context, s ServerStatus) error {
	return r.st.Set(ctx, ServerStatusPath, s)
}

// The methods below are the worker side of the contract.

// ListPrompts returns every queued job record keyed by question id. Entries
// that do not decode are skipped and reported through bad.
func (r *Repo) ListPrompts(ctx context.Context) (prompts map[string]Prompt, bad []string, err error) {
	snap, err := r.st.Get(ctx, PromptsRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("list prompts: %w", err)
	}
	prompts = make(map[string]Prompt)
	if !snap.Exists() {
		return prompts, nil, nil
	}
	var raw map[string]json.RawMessage
	if err := snap.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode prompts: %w", err)
	}
	for id, v := range raw {
		var p Prompt
		if err := json.Unmarshal(v, &p); err != nil {
			bad = append(bad, id)
			continue
		}
		if p.QuestionID == "" {
			p.QuestionID = id
		}
		prompts[id] = p
	}
	return prompts, bad, nil
}

func (r *Repo) SetCondition(ctx context.Context, c Condition) error {
	if err := r.st.Set(ctx, ConditionPath(c.QuestionID), c); err != nil {
		return fmt.Errorf("set condition %s: %w", c.QuestionID, err)
	}
	return nil
}

func (r *Repo) PutResult(ctx context.Context, res Result) error {
	if err := r.st.Set(ctx, ResultPath(res.QuestionID), res); err != nil {
		return fmt.Errorf("put result %s: %w", res.QuestionID, err)
	}
	return nil
}

func (r *Repo) RemovePrompt(ctx context.Context, questionID string) error {
	return r.st.Remove(ctx, PromptPath(questionID))
}
