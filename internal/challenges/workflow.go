package challenges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opWorkflowNew = "challenges.workflow.new"
	opCreate      = "challenges.create"
	opAccept      = "challenges.accept"
	opReject      = "challenges.reject"
	opCancel      = "challenges.cancel"
	opList        = "challenges.list"
	opGet         = "challenges.get"

	querySquare    = "square_id = ?"
	queryChallenge = "square_id = ? AND challenge_id = ?"
	orderHead      = "seq DESC"

	maxWhenLabelLength = 80
	maxNoteLength      = 280

	// MetaChallengeID is the notification meta key carrying the challenge id.
	MetaChallengeID = "challengeId"
	// MetaTab points clients at the screen showing the entity.
	MetaTab       = "tab"
	tabChallenges = "challenges"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingNotifier   = errors.New("notifier is required")
)

// Notifier receives one event per applied state change.
type Notifier interface {
	Push(ctx context.Context, squareID square.ID, draft notifications.Draft) (notifications.Event, error)
}

// WorkflowConfig describes the dependencies of the challenge workflow.
type WorkflowConfig struct {
	Store      *square.Store
	Notifier   Notifier
	Clock      square.Clock
	IDProvider square.IDProvider
	Logger     *zap.Logger
}

// Workflow drives challenges through PENDING to a terminal status.
type Workflow struct {
	store      *square.Store
	notifier   Notifier
	clock      square.Clock
	idProvider square.IDProvider
	logger     *zap.Logger
}

// NewWorkflow validates the configuration and constructs the workflow.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Store == nil {
		return nil, square.NewServiceError(opWorkflowNew, "missing_store", errMissingStore)
	}
	if cfg.Notifier == nil {
		return nil, square.NewServiceError(opWorkflowNew, "missing_notifier", errMissingNotifier)
	}
	if cfg.IDProvider == nil {
		return nil, square.NewServiceError(opWorkflowNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create proposes a match from fromTeam to toTeam. Only the fromTeam captain may propose and a
// team cannot challenge itself; on failure the list is left untouched.
func (w *Workflow) Create(ctx context.Context, squareID square.ID, creator square.User, fromTeam, toTeam teams.Team, whenLabel, note string) ([]Challenge, error) {
	if !creator.Valid() {
		return nil, square.NewServiceError(opCreate, "identity_required", square.ErrIdentityRequired)
	}
	if !fromTeam.IsCaptain(creator.ID.String()) {
		return nil, square.NewServiceError(opCreate, "not_captain", square.ErrNotCaptain)
	}
	if fromTeam.ID == toTeam.ID {
		return nil, square.NewServiceError(opCreate, "same_team", square.ErrSameTeam)
	}
	whenLabel = strings.TrimSpace(whenLabel)
	if utf8.RuneCountInString(whenLabel) > maxWhenLabelLength {
		return nil, square.NewServiceError(opCreate, "invalid_when_label",
			fmt.Errorf("%w: when label must be at most %d characters", square.ErrInvalidInput, maxWhenLabelLength))
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, square.NewServiceError(opCreate, "invalid_note",
			fmt.Errorf("%w: note must be at most %d characters", square.ErrInvalidInput, maxNoteLength))
	}
	challengeID, err := w.idProvider.NewID()
	if err != nil {
		w.logError(opCreate, "id_generation_failed", err, zap.String("square_id", squareID.String()))
		return nil, square.NewServiceError(opCreate, "id_generation_failed", err)
	}
	now := w.clock().UTC()
	challenge := Challenge{
		ID:              challengeID,
		SquareID:        squareID.String(),
		FromTeamID:      fromTeam.ID,
		FromTeamName:    fromTeam.Name,
		ToTeamID:        toTeam.ID,
		ToTeamName:      toTeam.Name,
		Status:          StatusPending,
		WhenLabel:       whenLabel,
		Note:            note,
		CreatedByUserID: creator.ID.String(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var list []Challenge
	err = w.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&challenge).Error; err != nil {
			w.logError(opCreate, "insert_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opCreate, "insert_failed", err)
		}
		if _, err := w.notifier.Push(ctx, squareID, notifications.Draft{
			Kind:  notifications.KindInfo,
			Title: "New challenge",
			Text:  describeProposal(challenge),
			Meta:  challengeMeta(challenge.ID),
		}); err != nil {
			return err
		}
		found, err := w.list(tx, opCreate, squareID)
		if err != nil {
			return err
		}
		list = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Accept moves a pending challenge to ACCEPTED.
func (w *Workflow) Accept(ctx context.Context, squareID square.ID, challengeID string) (Outcome, error) {
	return w.transition(ctx, opAccept, squareID, challengeID, StatusAccepted)
}

// Reject moves a pending challenge to REJECTED.
func (w *Workflow) Reject(ctx context.Context, squareID square.ID, challengeID string) (Outcome, error) {
	return w.transition(ctx, opReject, squareID, challengeID, StatusRejected)
}

// Cancel moves a pending challenge to CANCELED.
func (w *Workflow) Cancel(ctx context.Context, squareID square.ID, challengeID string) (Outcome, error) {
	return w.transition(ctx, opCancel, squareID, challengeID, StatusCanceled)
}

// List returns the square's challenges, most recently created first.
func (w *Workflow) List(ctx context.Context, squareID square.ID) ([]Challenge, error) {
	var list []Challenge
	err := w.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := w.list(tx, opList, squareID)
		if err != nil {
			return err
		}
		list = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one challenge.
func (w *Workflow) Get(ctx context.Context, squareID square.ID, challengeID string) (Challenge, error) {
	var challenge Challenge
	err := w.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := w.find(tx, opGet, squareID, challengeID)
		if err != nil {
			return err
		}
		challenge = found
		return nil
	})
	return challenge, err
}

func (w *Workflow) transition(ctx context.Context, operation string, squareID square.ID, challengeID string, target Status) (Outcome, error) {
	var outcome Outcome
	err := w.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		challenge, err := w.find(tx, operation, squareID, challengeID)
		if err != nil {
			return err
		}
		if challenge.Status.Terminal() {
			w.logger.Debug("challenge transition ignored",
				zap.String("operation", operation),
				zap.String("square_id", squareID.String()),
				zap.String("challenge_id", challenge.ID),
				zap.String("status", string(challenge.Status)))
		} else {
			challenge.Status = target
			challenge.UpdatedAt = w.clock().UTC()
			if err := tx.Model(&Challenge{}).
				Where(queryChallenge, squareID.String(), challenge.ID).
				Updates(map[string]any{"status": challenge.Status, "updated_at": challenge.UpdatedAt}).Error; err != nil {
				w.logError(operation, "update_failed", err, zap.String("square_id", squareID.String()), zap.String("challenge_id", challenge.ID))
				return square.NewServiceError(operation, "update_failed", err)
			}
			if _, err := w.notifier.Push(ctx, squareID, transitionDraft(challenge)); err != nil {
				return err
			}
			outcome.Applied = true
		}
		list, err := w.list(tx, operation, squareID)
		if err != nil {
			return err
		}
		outcome.Challenge = challenge
		outcome.Challenges = list
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (w *Workflow) find(tx *gorm.DB, operation string, squareID square.ID, challengeID string) (Challenge, error) {
	var challenge Challenge
	err := tx.Where(queryChallenge, squareID.String(), strings.TrimSpace(challengeID)).Take(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Challenge{}, square.NewServiceError(operation, "challenge_not_found", square.ErrNotFound)
		}
		w.logError(operation, "query_failed", err, zap.String("square_id", squareID.String()), zap.String("challenge_id", challengeID))
		return Challenge{}, square.NewServiceError(operation, "query_failed", err)
	}
	return challenge, nil
}

func (w *Workflow) list(tx *gorm.DB, operation string, squareID square.ID) ([]Challenge, error) {
	var list []Challenge
	if err := tx.Where(querySquare, squareID.String()).Order(orderHead).Find(&list).Error; err != nil {
		w.logError(operation, "list_failed", err, zap.String("square_id", squareID.String()))
		return nil, square.NewServiceError(operation, "list_failed", err)
	}
	return list, nil
}

func describeProposal(challenge Challenge) string {
	text := fmt.Sprintf("%s challenged %s", teamLabel(challenge.FromTeamName, challenge.FromTeamID), teamLabel(challenge.ToTeamName, challenge.ToTeamID))
	if challenge.WhenLabel != "" {
		text += " for " + challenge.WhenLabel
	}
	return text
}

func transitionDraft(challenge Challenge) notifications.Draft {
	from := teamLabel(challenge.FromTeamName, challenge.FromTeamID)
	to := teamLabel(challenge.ToTeamName, challenge.ToTeamID)
	draft := notifications.Draft{Meta: challengeMeta(challenge.ID)}
	switch challenge.Status {
	case StatusAccepted:
		draft.Kind = notifications.KindSuccess
		draft.Title = "Challenge accepted"
		draft.Text = fmt.Sprintf("%s accepted the challenge from %s", to, from)
	case StatusRejected:
		draft.Kind = notifications.KindWarn
		draft.Title = "Challenge rejected"
		draft.Text = fmt.Sprintf("%s rejected the challenge from %s", to, from)
	default:
		draft.Kind = notifications.KindInfo
		draft.Title = "Challenge canceled"
		draft.Text = fmt.Sprintf("%s withdrew the challenge to %s", from, to)
	}
	return draft
}

func challengeMeta(challengeID string) notifications.Meta {
	return notifications.Meta{MetaTab: tabChallenges, MetaChallengeID: challengeID}
}

func teamLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func (w *Workflow) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	w.logger.Error("challenge workflow error", attrs...)
}
