package repository

import (
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Fixture is a YAML description of the users, events and sessions a
// MemoryStore starts with. Session times are offsets from the load instant
// so a fixture stays valid across days.
//
//	users:
//	  - {id: 1, name: Ada, email: ada@example.com}
//	events:
//	  - {id: 1, title: GopherCon, location: Berlin}
//	sessions:
//	  - {id: 1, event_id: 1, start_offset: 48h, duration: 2h, capacity: 25}
type Fixture struct {
	Users    []FixtureUser    `koanf:"users"`
	Events   []FixtureEvent   `koanf:"events"`
	Sessions []FixtureSession `koanf:"sessions"`
}

type FixtureUser struct {
	ID    int64  `koanf:"id"`
	Name  string `koanf:"name"`
	Email string `koanf:"email"`
}

type FixtureEvent struct {
	ID                int64  `koanf:"id"`
	Title             string `koanf:"title"`
	Location          string `koanf:"location"`
	AllowMultiSession bool   `koanf:"allow_multi_session"`
}

type FixtureSession struct {
	ID               int64         `koanf:"id"`
	EventID          int64         `koanf:"event_id"`
	StartOffset      time.Duration `koanf:"start_offset"`
	Duration         time.Duration `koanf:"duration"`
	Capacity         int           `koanf:"capacity"`
	WaitingListLimit int           `koanf:"waiting_list_limit"`
	Status           string        `koanf:"status"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load fixture %s: %w", path, err)
	}
	var f Fixture
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return &f, nil
}

// Seed loads f into the store with session times relative to now.
func (s *MemoryStore) Seed(f *Fixture, now time.Time) error {
	for _, u := range f.Users {
		s.PutUser(model.User{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	for _, e := range f.Events {
		s.PutEvent(model.Event{
			ID:                e.ID,
			Title:             e.Title,
			Location:          e.Location,
			AllowMultiSession: e.AllowMultiSession,
		})
	}
	for _, fs := range f.Sessions {
		status := model.SessionStatus(fs.Status)
		switch status {
		case "":
			status = model.SessionOpen
		case model.SessionOpen, model.SessionClosed:
		default:
			return fmt.Errorf("seed session %d: unknown status %q", fs.ID, fs.Status)
		}
		if fs.WaitingListLimit < 0 {
			return fmt.Errorf("seed session %d: waiting_list_limit must not be negative", fs.ID)
		}
		if fs.Duration < 0 {
			return fmt.Errorf("seed session %d: duration must not be negative", fs.ID)
		}
		start := now.Add(fs.StartOffset)
		err := s.PutSession(model.Session{
			ID:               fs.ID,
			EventID:          fs.EventID,
			StartTime:        start,
			EndTime:          start.Add(fs.Duration),
			Capacity:         fs.Capacity,
			WaitingListLimit: fs.WaitingListLimit,
			Status:           status,
		})
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}
