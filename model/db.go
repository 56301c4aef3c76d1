package model

// DBConfig is the [db] section of config.ini, used to seed the default
// registry entry on first start.
type DBConfig struct {
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
	Database string `ini:"database"`
}
