package model

import "fmt"

// ConnectionConfig is one named PostgreSQL target in the registry.
// At most one entry is active at a time; the registry enforces this.
type ConnectionConfig struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	Name     string `gorm:"column:name" json:"name"`
	Host     string `gorm:"column:host" json:"host"`
	Port     uint16 `gorm:"column:port" json:"port"`
	Database string `gorm:"column:database" json:"database"`
	Username string `gorm:"column:username" json:"username"`
	Password string `gorm:"column:password" json:"-"`
	UseSSL   bool   `gorm:"column:use_ssl" json:"useSSL"`
	IsActive bool   `gorm:"column:is_active" json:"isActive"`
	Position int    `gorm:"column:position" json:"-"` // insertion order for List
}

func (ConnectionConfig) TableName() string {
	return "connections"
}

// DSN builds the pgx connection string for this target.
func (c *ConnectionConfig) DSN() string {
	sslmode := "disable"
	if c.UseSSL {
		sslmode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslmode)
}

// Label is the display name, falling back to host/database.
func (c *ConnectionConfig) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s/%s", c.Host, c.Database)
}
