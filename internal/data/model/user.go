package model

// User is a submitter.
type User struct {
	Name   string  `json:"name" gorm:"not null;uniqueIndex"`
	Tokens []Token `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ID     uint    `json:"id" gorm:"primaryKey;autoIncrement"`
}

// Token is an API bearer token owned by a user.
type Token struct {
	Value  string `json:"-" gorm:"not null;uniqueIndex"`
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID uint   `json:"user_id" gorm:"not null;index"`
	Valid  bool   `json:"valid" gorm:"not null;default:true"`
}
