package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAccessCodeTaken = errors.New("access code already in use")
	ErrInvalidInput    = errors.New("invalid input")
)

// SpaceStore is the registry of spaces and their participants.
type SpaceStore interface {
	CreateSpace(ctx context.Context, name, accessCode, participantName string) (Space, Participant, error)
	JoinSpace(ctx context.Context, accessCode, participantName string) (Space, Participant, error)
	Status(ctx context.Context, spaceID string) (SpaceStatus, error)
	HasParticipant(ctx context.Context, spaceID, participantID string) (bool, error)
	RemoveParticipant(ctx context.Context, spaceID, participantID string) error
	Close() error
}

// SQLStore implements SpaceStore on SQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore opens the registry at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) CreateSpace(ctx context.Context, name, accessCode, participantName string) (Space, Participant, error) {
	name, accessCode, participantName = strings.TrimSpace(name), strings.TrimSpace(accessCode), strings.TrimSpace(participantName)
	if name == "" || accessCode == "" || participantName == "" {
		return Space{}, Participant{}, fmt.Errorf("%w: name, access code and participant name are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	space := Space{ID: uuid.New().String(), Name: name, AccessCode: accessCode, CreatedAt: now}
	p := Participant{ID: uuid.New().String(), SpaceID: space.ID, Name: participantName, JoinedAt: now}

	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM spaces WHERE access_code = ?`, accessCode).Scan(&exists)
		if err == nil {
			return ErrAccessCodeTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check access code: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spaces (id, name, access_code, created_at) VALUES (?, ?, ?, ?)`,
			space.ID, space.Name, space.AccessCode, now.UnixNano()); err != nil {
			return fmt.Errorf("insert space: %w", err)
		}
		return insertParticipant(ctx, tx, p)
	})
	if err != nil {
		return Space{}, Participant{}, err
	}
	return space, p, nil
}

func (s *SQLStore) JoinSpace(ctx context.Context, accessCode, participantName string) (Space, Participant, error) {
	accessCode, participantName = strings.TrimSpace(accessCode), strings.TrimSpace(participantName)
	if accessCode == "" || participantName == "" {
		return Space{}, Participant{}, fmt.Errorf("%w: access code and name are required", ErrInvalidInput)
	}

	var space Space
	var p Participant
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, name, access_code, created_at FROM spaces WHERE access_code = ?`, accessCode).
			Scan(&space.ID, &space.Name, &space.AccessCode, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup space: %w", err)
		}
		space.CreatedAt = time.Unix(0, created).UTC()

		p = Participant{ID: uuid.New().String(), SpaceID: space.ID, Name: participantName, JoinedAt: s.now().UTC()}
		return insertParticipant(ctx, tx, p)
	})
	if err != nil {
		return Space{}, Participant{}, err
	}
	return space, p, nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, p Participant) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (id, space_id, name, joined_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.SpaceID, p.Name, p.JoinedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// Status returns the space with its participants in join order.
func (s *SQLStore) Status(ctx context.Context, spaceID string) (SpaceStatus, error) {
	status := SpaceStatus{SpaceID: spaceID, Participants: []Participant{}}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM spaces WHERE id = ?`, spaceID).Scan(&status.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return SpaceStatus{}, ErrNotFound
	}
	if err != nil {
		return SpaceStatus{}, fmt.Errorf("lookup space: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, joined_at FROM participants WHERE space_id = ? ORDER BY joined_at, id`, spaceID)
	if err != nil {
		return SpaceStatus{}, fmt.Errorf("list participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		p := Participant{SpaceID: spaceID}
		var joined int64
		if err := rows.Scan(&p.ID, &p.Name, &joined); err != nil {
			return SpaceStatus{}, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt = time.Unix(0, joined).UTC()
		status.Participants = append(status.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return SpaceStatus{}, fmt.Errorf("list participants: %w", err)
	}
	return status, nil
}

func (s *SQLStore) HasParticipant(ctx context.Context, spaceID, participantID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM participants WHERE space_id = ? AND id = ?`, spaceID, participantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup participant: %w", err)
	}
	return true, nil
}

func (s *SQLStore) RemoveParticipant(ctx context.Context, spaceID, participantID string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM participants WHERE space_id = ? AND id = ?`, spaceID, participantID)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
