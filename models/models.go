package models

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ErrNoCredential is returned when a user would be saved with neither a
// password hash nor a linked Google account.
var ErrNoCredential = errors.New("user needs a password or a linked google account")

type User struct {
	ID           uint `gorm:"primarykey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Name         string  `gorm:"size:255;not null"`
	Email        string  `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash *string `json:"-" gorm:"size:255"`
	GoogleID     *string `json:"-" gorm:"size:255;uniqueIndex"`
	Role         Role    `gorm:"size:16;not null;default:user"`
	Uploads      []Upload
}

func (u *User) BeforeSave(tx *gorm.DB) error {
	if (u.PasswordHash == nil || *u.PasswordHash == "") && (u.GoogleID == nil || *u.GoogleID == "") {
		return ErrNoCredential
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// UserView is the public shape of a user; the password hash never leaves the server.
type UserView struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	HasPassword  bool      `json:"hasPassword"`
	LinkedGoogle bool      `json:"linkedGoogle"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u *User) Public() UserView {
	return UserView{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		HasPassword:  u.PasswordHash != nil && *u.PasswordHash != "",
		LinkedGoogle: u.GoogleID != nil && *u.GoogleID != "",
		CreatedAt:    u.CreatedAt,
	}
}

type Upload struct {
	ID        uint      `gorm:"primarykey"`
	UUID      string    `gorm:"size:36;uniqueIndex"`
	CreatedAt time.Time `gorm:"index"`
	UserID    *uint     `gorm:"index"`
	User      *User     `json:"user,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Filename  string    `gorm:"size:255;not null"`
	Columns   datatypes.JSON
	RowCount  int
	ObjectKey string `gorm:"size:512"`
}

// ColumnNames decodes the stored header list.
func (u *Upload) ColumnNames() []string {
	cols := []string{}
	if len(u.Columns) == 0 {
		return cols
	}
	_ = json.Unmarshal(u.Columns, &cols)
	return cols
}

type UploadView struct {
	ID        uint      `json:"id"`
	UUID      string    `json:"uuid"`
	Filename  string    `json:"filename"`
	OwnerID   *uint     `json:"ownerId"`
	OwnerName string    `json:"ownerName,omitempty"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"rowCount"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

// View expects User to be preloaded when an owner name is wanted.
func (u *Upload) View() UploadView {
	v := UploadView{
		ID:        u.ID,
		UUID:      u.UUID,
		Filename:  u.Filename,
		OwnerID:   u.UserID,
		Columns:   u.ColumnNames(),
		RowCount:  u.RowCount,
		Archived:  u.ObjectKey != "",
		CreatedAt: u.CreatedAt,
	}
	if u.User != nil {
		v.OwnerName = u.User.Name
	}
	return v
}
