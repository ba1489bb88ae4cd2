package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// Catalog implements app.Catalog on Postgres. Question and settings payloads
// are stored as JSONB; everything else is plain columns.
type Catalog struct {
	pool *pgxpool.Pool
}

var _ app.Catalog = (*Catalog)(nil)

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

type questionDoc struct {
	UID             string   `json:"uid"`
	Title           string   `json:"title"`
	Text            string   `json:"text"`
	QuestionType    string   `json:"questionType"`
	AnswerOptions   []string `json:"answerOptions"`
	CorrectAnswers  []bool   `json:"correctAnswers"`
	CorrectValue    string   `json:"correctValue"`
	TimeLimitSec    int      `json:"timeLimit"`
	Explanation     string   `json:"explanation"`
	FeedbackWaitSec int      `json:"feedbackWaitTime"`
}

const instanceColumns = `
	g.id, g.access_code, g.status, g.play_mode, g.deferred,
	g.deferred_from, g.deferred_to, g.initiator_user_id,
	g.template_id, t.creator_id, g.settings`

func (c *Catalog) scanInstance(row pgx.Row) (domain.GameInstance, error) {
	var (
		instance     domain.GameInstance
		deferredFrom *time.Time
		deferredTo   *time.Time
		settingsRaw  []byte
	)
	err := row.Scan(
		&instance.ID, &instance.AccessCode, &instance.Status, &instance.PlayMode,
		&instance.Deferred, &deferredFrom, &deferredTo, &instance.InitiatorUserID,
		&instance.TemplateID, &instance.TemplateCreatorID, &settingsRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameInstance{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.GameInstance{}, fmt.Errorf("scan game instance: %w", err)
	}
	if deferredFrom != nil {
		instance.DeferredFrom = *deferredFrom
	}
	if deferredTo != nil {
		instance.DeferredTo = *deferredTo
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &instance.Settings); err != nil {
			return domain.GameInstance{}, fmt.Errorf("decode game settings: %w", err)
		}
	}
	return instance, nil
}

func (c *Catalog) GameInstanceByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM game_instances g
		JOIN game_templates t ON t.id = g.template_id
		WHERE g.access_code = $1`, accessCode)
	return c.scanInstance(row)
}

func (c *Catalog) GameInstanceByID(ctx context.Context, id string) (domain.GameInstance, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM game_instances g
		JOIN game_templates t ON t.id = g.template_id
		WHERE g.id = $1`, id)
	return c.scanInstance(row)
}

func (c *Catalog) QuestionByUID(ctx context.Context, uid string) (domain.Question, error) {
	var raw []byte
	err := c.pool.QueryRow(ctx, `SELECT data FROM questions WHERE uid = $1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, uid)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question %s: %w", uid, err)
	}
	var doc questionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Question{}, fmt.Errorf("decode question %s: %w", uid, err)
	}
	return domain.Question{
		UID:             doc.UID,
		Title:           doc.Title,
		Text:            doc.Text,
		QuestionType:    domain.QuestionType(doc.QuestionType),
		AnswerOptions:   doc.AnswerOptions,
		CorrectAnswers:  doc.CorrectAnswers,
		CorrectValue:    doc.CorrectValue,
		TimeLimitSec:    doc.TimeLimitSec,
		Explanation:     doc.Explanation,
		FeedbackWaitSec: doc.FeedbackWaitSec,
	}, nil
}

func (c *Catalog) TemplateQuestionUIDs(ctx context.Context, templateID string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT question_uid FROM template_questions
		WHERE template_id = $1
		ORDER BY sequence`, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template questions %s: %w", templateID, err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan template question: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template questions: %w", err)
	}
	return uids, nil
}

func (c *Catalog) UpsertParticipant(ctx context.Context, gameInstanceID string, p domain.Participant) (domain.Participant, error) {
	row := c.pool.QueryRow(ctx, `
		INSERT INTO game_participants
			(game_instance_id, user_id, username, avatar_emoji, score, participation_type, attempt_count, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_instance_id, user_id) DO UPDATE SET
			username = COALESCE(NULLIF(EXCLUDED.username, ''), game_participants.username),
			avatar_emoji = COALESCE(NULLIF(EXCLUDED.avatar_emoji, ''), game_participants.avatar_emoji),
			participation_type = EXCLUDED.participation_type,
			attempt_count = GREATEST(game_participants.attempt_count, EXCLUDED.attempt_count)
		RETURNING user_id, username, avatar_emoji, score, participation_type, attempt_count, joined_at`,
		gameInstanceID, p.UserID, p.Username, p.AvatarEmoji, p.Score, p.ParticipationType, p.AttemptCount, p.JoinedAt)

	var out domain.Participant
	if err := row.Scan(&out.UserID, &out.Username, &out.AvatarEmoji, &out.Score, &out.ParticipationType, &out.AttemptCount, &out.JoinedAt); err != nil {
		return domain.Participant{}, fmt.Errorf("upsert participant: %w", err)
	}
	return out, nil
}

func (c *Catalog) SetParticipantScore(ctx context.Context, gameInstanceID, userID string, participationType domain.ParticipationType, score int) error {
	tag, err := c.pool.Exec(ctx, `
		UPDATE game_participants
		SET score = $1, participation_type = $2
		WHERE game_instance_id = $3 AND user_id = $4`,
		score, participationType, gameInstanceID, userID)
	if err != nil {
		return fmt.Errorf("update participant score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s in game %s", domain.ErrParticipantNotFound, userID, gameInstanceID)
	}
	return nil
}

func (c *Catalog) MarkGameCompleted(ctx context.Context, gameInstanceID string) error {
	if _, err := c.pool.Exec(ctx, `
		UPDATE game_instances SET status = 'completed', ended_at = NOW()
		WHERE id = $1`, gameInstanceID); err != nil {
		return fmt.Errorf("mark game completed: %w", err)
	}
	return nil
}
