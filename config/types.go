package config

import "time"

type Config struct {
	Scan          Scan
	Catalog       Catalog
	Database      Database
	Notifications Notifications
	Server        Server
	Log           Log
}

type Scan struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	Concurrency     int `mapstructure:"concurrency"`
}

func (s Scan) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

type Catalog struct {
	BaseURL        string `mapstructure:"base_url"`
	Term           string `mapstructure:"term"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c Catalog) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type Database struct {
	Type      string `mapstructure:"type"`
	Firestore Firestore
	SQLite    SQLite
	Postgres  Postgres
}

type Firestore struct {
	ProjectID           string `mapstructure:"project_id"`
	CredentialsFile     string `mapstructure:"credentials_file"`
	SectionCollectionID string `mapstructure:"section_collection_id"`
	UserCollectionID    string `mapstructure:"user_collection_id"`
}

type SQLite struct {
	ConnectionString string `mapstructure:"connection_string"`
}

type Postgres struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Insecure     bool   `mapstructure:"insecure"`
}

type Notifications struct {
	Type           string `mapstructure:"type"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	EmailSmtp      EmailSmtp
}

func (n Notifications) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

type EmailSmtp struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// plain or xoauth2
	Auth         string `mapstructure:"auth"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
}

type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}
