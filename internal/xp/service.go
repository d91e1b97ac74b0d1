package xp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew        = "xp.service.new"
	opAward             = "xp.award"
	opGetAccount        = "xp.get_account"
	opGetActionCounters = "xp.get_action_counters"
	opListAccounts      = "xp.list_accounts"
	queryAccount        = "square_id = ? AND user_id = ?"
	querySquare         = "square_id = ?"
	dayBucketLayout     = "2006-01-02"
	reasonIdentity      = "identity_required"
	reasonAccountLookup = "account_lookup_failed"
	reasonAccountSave   = "account_save_failed"
	reasonUnknownAction = "unknown_action"
	reasonQueryFailed   = "query_failed"
)

var (
	errMissingStore  = errors.New("store is required")
	errUnknownAction = errors.New("unknown action kind")
)

// ServiceConfig describes the dependencies of the XP ledger. Location fixes the calendar day used
// for daily caps; it must be the same for every instance of a deployment.
type ServiceConfig struct {
	Store    *square.Store
	Clock    square.Clock
	Location *time.Location
	Logger   *zap.Logger
}

// Service records experience per (square, user).
type Service struct {
	store    *square.Store
	clock    square.Clock
	location *time.Location
	logger   *zap.Logger
}

// NewService validates the configuration and constructs the ledger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, square.NewServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		clock:    clock,
		location: location,
		logger:   logger,
	}, nil
}

// Award applies the rule of kind to the user's account. Hitting a daily cap is reported through
// AwardResult, not as an error.
func (s *Service) Award(ctx context.Context, squareID square.ID, user square.User, kind ActionKind, meta map[string]string) (AwardResult, error) {
	if !user.Valid() {
		return AwardResult{}, square.NewServiceError(opAward, reasonIdentity, square.ErrIdentityRequired)
	}
	rule, ok := RuleFor(kind)
	if !ok {
		return AwardResult{}, square.NewServiceError(opAward, reasonUnknownAction,
			fmt.Errorf("%w: %w %q", square.ErrInvalidInput, errUnknownAction, kind))
	}

	var result AwardResult
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		var account Account
		exists := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryAccount, squareID.String(), user.ID.String()).
			Take(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
			account = Account{SquareID: squareID.String(), UserID: user.ID.String()}
		} else if err != nil {
			s.logError(opAward, reasonAccountLookup, err, accountFields(squareID, user.ID)...)
			return square.NewServiceError(opAward, reasonAccountLookup, err)
		}

		now := s.clock()
		result = applyRule(&account, rule, user, now, now.In(s.location).Format(dayBucketLayout))

		if exists {
			err = tx.Save(&account).Error
		} else {
			err = tx.Create(&account).Error
		}
		if err != nil {
			s.logError(opAward, reasonAccountSave, err, accountFields(squareID, user.ID)...)
			return square.NewServiceError(opAward, reasonAccountSave, err)
		}
		return nil
	})
	if err != nil {
		return AwardResult{}, err
	}

	fields := append(accountFields(squareID, user.ID),
		zap.String("action", string(kind)),
		zap.Bool("applied", result.Applied),
		zap.Int64("total_xp", result.Account.TotalXP))
	for key, value := range meta {
		fields = append(fields, zap.String("meta."+key, value))
	}
	s.logger.Debug("xp award", fields...)
	return result, nil
}

// applyRule mutates account for one award at now; day is the calendar day bucket of now.
func applyRule(account *Account, rule Rule, user square.User, now time.Time, day string) AwardResult {
	counters := counterCopy(account.ActionCounters.Data())
	usage := pruneUsage(account.DailyUsage.Data(), day)
	bucket := string(rule.Kind) + ":" + day

	if name := strings.TrimSpace(user.DisplayName); name != "" {
		account.DisplayName = name
	}
	if avatar := strings.TrimSpace(user.AvatarRef); avatar != "" {
		account.AvatarRef = avatar
	}
	if rule.Capped() && usage[bucket] >= rule.DailyCap {
		account.ActionCounters = datatypes.NewJSONType(counters)
		account.DailyUsage = datatypes.NewJSONType(usage)
		return AwardResult{Applied: false, Reason: ReasonDailyCapReached, Account: *account}
	}

	counters[string(rule.Kind)]++
	usage[bucket]++
	account.TotalXP += rule.XP
	account.ActionCounters = datatypes.NewJSONType(counters)
	account.DailyUsage = datatypes.NewJSONType(usage)
	account.UpdatedAt = now.UTC()
	return AwardResult{Applied: true, AddedXP: rule.XP, Account: *account}
}

// pruneUsage keeps only the buckets of day; older buckets can never gate an award again.
func pruneUsage(usage Counters, day string) Counters {
	pruned := make(Counters, len(usage))
	suffix := ":" + day
	for key, value := range usage {
		if strings.HasSuffix(key, suffix) {
			pruned[key] = value
		}
	}
	return pruned
}

// GetAccount returns the stored account or a zero-valued virtual one. It never creates a row.
func (s *Service) GetAccount(ctx context.Context, squareID square.ID, user square.User) (Account, error) {
	var account Account
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findAccount(tx, squareID, user.ID)
		if err != nil {
			s.logError(opGetAccount, reasonQueryFailed, err, accountFields(squareID, user.ID)...)
			return square.NewServiceError(opGetAccount, reasonQueryFailed, err)
		}
		if found != nil {
			account = *found
			return nil
		}
		account = Account{
			SquareID:    squareID.String(),
			UserID:      user.ID.String(),
			DisplayName: user.DisplayName,
			AvatarRef:   user.AvatarRef,
		}
		return nil
	})
	return account, err
}

// GetActionCounters returns cumulative per-action counts, empty when the user has no account.
func (s *Service) GetActionCounters(ctx context.Context, squareID square.ID, userID square.UserID) (map[ActionKind]int64, error) {
	counters := map[ActionKind]int64{}
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findAccount(tx, squareID, userID)
		if err != nil {
			s.logError(opGetActionCounters, reasonQueryFailed, err, accountFields(squareID, userID)...)
			return square.NewServiceError(opGetActionCounters, reasonQueryFailed, err)
		}
		if found == nil {
			return nil
		}
		for key, value := range found.ActionCounters.Data() {
			counters[ActionKind(key)] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counters, nil
}

// ListAccounts returns every account of the square in no particular order.
func (s *Service) ListAccounts(ctx context.Context, squareID square.ID) ([]Account, error) {
	var accounts []Account
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Where(querySquare, squareID.String()).Find(&accounts).Error; err != nil {
			s.logError(opListAccounts, reasonQueryFailed, err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opListAccounts, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Service) findAccount(tx *gorm.DB, squareID square.ID, userID square.UserID) (*Account, error) {
	var account Account
	err := tx.Where(queryAccount, squareID.String(), userID.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func accountFields(squareID square.ID, userID square.UserID) []zap.Field {
	return []zap.Field{
		zap.String("square_id", squareID.String()),
		zap.String("user_id", userID.String()),
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("xp service error", attrs...)
}
