package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
)

// ErrRecordNotFound is returned by single-record lookups.
var ErrRecordNotFound = errs.Sentinel("record not found", errs.ErrNotFound)

// SpaceCond selects the space row a conditional update applies to. Empty
// Statuses matches any status; a nil ReservationID skips the linkage guard.
type SpaceCond struct {
	ID            string
	Statuses      []model.SpaceStatus
	ReservationID *string
}

// Store defines the interface for all database operations.
type Store interface {
	// Transaction runs fn against a Store bound to a single database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetSpace(ctx context.Context, id string) (*model.Space, error)
	ListSpaces(ctx context.Context) ([]model.Space, error)
	CountSpaces(ctx context.Context) (int64, error)
	CreateSpace(ctx context.Context, space *model.Space) error
	// UpdateSpace applies updates when cond matches and bumps the row version.
	// It reports whether a row was changed.
	UpdateSpace(ctx context.Context, cond SpaceCond, updates map[string]any) (bool, error)
	DeleteSpace(ctx context.Context, id string, status model.SpaceStatus) (bool, error)

	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	ListReservationsByStatus(ctx context.Context, status model.ReservationStatus) ([]model.Reservation, error)
	ListReservationsByHolder(ctx context.Context, holderID string) ([]model.Reservation, error)
	CountReservations(ctx context.Context, holderID string, status model.ReservationStatus) (int64, error)
	// TransitionReservation moves a reservation to status `to` only if its
	// current status is one of from. It reports whether a row was changed.
	TransitionReservation(ctx context.Context, id string, from []model.ReservationStatus, to model.ReservationStatus) (bool, error)
	MarkVehicleArrived(ctx context.Context, reservationID string) error

	UpsertSensor(ctx context.Context, rec *model.SensorRecord) error
	GetSensor(ctx context.Context, spaceID string) (*model.SensorRecord, error)
	ListSensors(ctx context.Context) ([]model.SensorRecord, error)

	GetUser(ctx context.Context, subject string) (*model.User, error)
	EnsureUser(ctx context.Context, u *model.User) error
	SetRole(ctx context.Context, subject string, role model.Role) error

	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, holderID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	DeleteHolderPushSubscription(ctx context.Context, holderID, endpoint string) (bool, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func persistence(err error, format string, args ...any) error {
	return errs.Mark(errs.Wrapf(err, format, args...), errs.ErrPersistence)
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) first(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// --- spaces ---

func (s *gormStore) GetSpace(ctx context.Context, id string) (*model.Space, error) {
	var space model.Space
	if err := s.first(ctx, &space, "id = ?", id); err != nil {
		if errs.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, persistence(err, "get space %s", id)
	}
	return &space, nil
}

func (s *gormStore) ListSpaces(ctx context.Context) ([]model.Space, error) {
	var spaces []model.Space
	if err := s.db.WithContext(ctx).Order("number").Find(&spaces).Error; err != nil {
		return nil, persistence(err, "list spaces")
	}
	return spaces, nil
}

func (s *gormStore) CountSpaces(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Space{}).Count(&n).Error; err != nil {
		return 0, persistence(err, "count spaces")
	}
	return n, nil
}

func (s *gormStore) CreateSpace(ctx context.Context, space *model.Space) error {
	if err := s.db.WithContext(ctx).Create(space).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.Mark(errs.Wrapf(err, "space %s", space.ID), errs.ErrConflict)
		}
		return persistence(err, "create space %s", space.ID)
	}
	return nil
}

func (s *gormStore) UpdateSpace(ctx context.Context, cond SpaceCond, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	q := s.db.WithContext(ctx).Model(&model.Space{}).Where("id = ?", cond.ID)
	if len(cond.Statuses) > 0 {
		q = q.Where("status IN ?", cond.Statuses)
	}
	if cond.ReservationID != nil {
		q = q.Where("reservation_id = ?", *cond.ReservationID)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, persistence(res.Error, "update space %s", cond.ID)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) DeleteSpace(ctx context.Context, id string, status model.SpaceStatus) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND status = ?", id, status).Delete(&model.Space{})
	if res.Error != nil {
		return false, persistence(res.Error, "delete space %s", id)
	}
	return res.RowsAffected > 0, nil
}

// --- reservations ---

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return persistence(err, "create reservation %s", r.ID)
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.first(ctx, &r, "id = ?", id); err != nil {
		if errs.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, persistence(err, "get reservation %s", id)
	}
	return &r, nil
}

func (s *gormStore) ListReservationsByStatus(ctx context.Context, status model.ReservationStatus) ([]model.Reservation, error) {
	var rs []model.Reservation
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("ends_at").Find(&rs).Error; err != nil {
		return nil, persistence(err, "list %s reservations", status)
	}
	return rs, nil
}

func (s *gormStore) ListReservationsByHolder(ctx context.Context, holderID string) ([]model.Reservation, error) {
	var rs []model.Reservation
	if err := s.db.WithContext(ctx).Where("holder_id = ?", holderID).Order("created_at DESC").Find(&rs).Error; err != nil {
		return nil, persistence(err, "list reservations of %s", holderID)
	}
	return rs, nil
}

func (s *gormStore) CountReservations(ctx context.Context, holderID string, status model.ReservationStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("holder_id = ? AND status = ?", holderID, status).Count(&n).Error
	if err != nil {
		return 0, persistence(err, "count reservations of %s", holderID)
	}
	return n, nil
}

func (s *gormStore) TransitionReservation(ctx context.Context, id string, from []model.ReservationStatus, to model.ReservationStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, persistence(res.Error, "transition reservation %s to %s", id, to)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) MarkVehicleArrived(ctx context.Context, reservationID string) error {
	err := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND status = ?", reservationID, model.ReservationActive).
		Update("vehicle_arrived", true).Error
	if err != nil {
		return persistence(err, "flag arrival on reservation %s", reservationID)
	}
	return nil
}

// --- sensors ---

func (s *gormStore) UpsertSensor(ctx context.Context, rec *model.SensorRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_signal", "state", "signal_strength", "battery_level", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return persistence(err, "upsert sensor %s", rec.ID)
	}
	return nil
}

func (s *gormStore) GetSensor(ctx context.Context, spaceID string) (*model.SensorRecord, error) {
	var rec model.SensorRecord
	if err := s.first(ctx, &rec, "space_id = ?", spaceID); err != nil {
		if errs.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, persistence(err, "get sensor of %s", spaceID)
	}
	return &rec, nil
}

func (s *gormStore) ListSensors(ctx context.Context) ([]model.SensorRecord, error) {
	var recs []model.SensorRecord
	if err := s.db.WithContext(ctx).Order("space_id").Find(&recs).Error; err != nil {
		return nil, persistence(err, "list sensors")
	}
	return recs, nil
}

// --- users ---

func (s *gormStore) GetUser(ctx context.Context, subject string) (*model.User, error) {
	var u model.User
	if err := s.first(ctx, &u, "subject = ?", subject); err != nil {
		if errs.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, persistence(err, "get user %s", subject)
	}
	return &u, nil
}

// EnsureUser inserts u unless the subject already exists. Email and name are
// refreshed on conflict; the stored role is kept.
func (s *gormStore) EnsureUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return persistence(err, "ensure user %s", u.Subject)
	}
	return nil
}

func (s *gormStore) SetRole(ctx context.Context, subject string, role model.Role) error {
	u := &model.User{Subject: subject, Role: role}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return persistence(err, "set role of %s", subject)
	}
	return nil
}

// --- push subscriptions ---

func (s *gormStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "holder_id"}),
	}).Create(sub).Error
	if err != nil {
		return persistence(err, "save push subscription")
	}
	return nil
}

func (s *gormStore) ListPushSubscriptions(ctx context.Context, holderID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("holder_id = ?", holderID).Find(&subs).Error; err != nil {
		return nil, persistence(err, "list push subscriptions of %s", holderID)
	}
	return subs, nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error; err != nil {
		return persistence(err, "delete push subscription")
	}
	return nil
}

func (s *gormStore) DeleteHolderPushSubscription(ctx context.Context, holderID, endpoint string) (bool, error) {
	res := s.db.WithContext(ctx).Where("endpoint = ? AND holder_id = ?", endpoint, holderID).Delete(&model.PushSubscription{})
	if res.Error != nil {
		return false, persistence(res.Error, "delete push subscription")
	}
	return res.RowsAffected > 0, nil
}
