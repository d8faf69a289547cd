package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite file
	}

	RemoteConfig struct {
		BaseURL       string
		Token         string
		Timeout       time.Duration
		RatePerSecond float64
		Burst         int
		HealthPath    string
	}

	SyncConfig struct {
		Profile            string // teacher | coordinator
		LockBackend        string // file | database | local
		LockDir            string
		LockTTL            time.Duration
		UnknownStorePolicy string // retry | discard
		MaxAttempts        int
		BackoffInitial     time.Duration
		BackoffMax         time.Duration
		SubmitTimeout      time.Duration
		CheckInterval      time.Duration
		Interval           time.Duration
		AlertThreshold     int
	}

	Config struct {
		AppName          string
		Build            string
		Env              string
		Debug            bool
		TestMode         bool
		SecretKey        string
		ClientID         string
		LogFile          string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail mail.Address
		AdminEmails      []mail.Address

		Server   ServerConfig
		Database DatabaseConfig
		Remote   RemoteConfig
		Sync     SyncConfig
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// DriverName is the database/sql driver registered for Engine.
func (db DatabaseConfig) DriverName() string {
	if db.Engine == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

// Dialect is the goose dialect matching Engine.
func (db DatabaseConfig) Dialect() string {
	if db.Engine == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}

func (c *Config) HasAdmins() bool {
	return len(c.AdminEmails) > 0
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("clientID", "")
	v.SetDefault("defaultFromEmail", "Masomo <noreply@localhost>")
	v.SetDefault("adminEmails", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 2*time.Minute)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 30*24*time.Hour)

	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo_sync")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", filepath.Join(os.TempDir(), "masomo-sync", "queue.db"))

	v.SetDefault("remote.baseURL", "http://localhost:8080")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.ratePerSecond", 5.0)
	v.SetDefault("remote.burst", 10)
	v.SetDefault("remote.healthPath", "/health")

	v.SetDefault("sync.profile", "teacher")
	v.SetDefault("sync.lockBackend", "file")
	v.SetDefault("sync.lockDir", filepath.Join(os.TempDir(), "masomo-sync", "locks"))
	v.SetDefault("sync.lockTTL", time.Minute)
	v.SetDefault("sync.unknownStorePolicy", "retry")
	v.SetDefault("sync.maxAttempts", 0)
	v.SetDefault("sync.backoffInitial", 30*time.Second)
	v.SetDefault("sync.backoffMax", time.Hour)
	v.SetDefault("sync.submitTimeout", 30*time.Second)
	v.SetDefault("sync.checkInterval", 15*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.alertThreshold", 10)
}

// NewConfig loads the configuration of the current ENV (DEV by default) from the environment,
// and from config/.env.<env> when that file exists.
// Variables are prefixed with the ENV and use underscores for nesting: DEV_SYNC_LOCKBACKEND=database
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:        v.GetString("appName"),
		Build:          v.GetString("build"),
		Env:            env,
		Debug:          v.GetBool("debug"),
		TestMode:       v.GetBool("testMode"),
		SecretKey:      v.GetString("secretKey"),
		ClientID:       v.GetString("clientID"),
		LogFile:        v.GetString("logFile"),
		RollbarToken:   v.GetString("rollbarToken"),
		SendgridApiKey: v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ReadTimeout:        v.GetDuration("server.readTimeout"),
			WriteTimeout:       v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        CleanString(v.GetString("database.engine"), true),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			Path:          v.GetString("database.path"),
		},
		Remote: RemoteConfig{
			BaseURL:       strings.TrimRight(v.GetString("remote.baseURL"), "/"),
			Token:         v.GetString("remote.token"),
			Timeout:       v.GetDuration("remote.timeout"),
			RatePerSecond: v.GetFloat64("remote.ratePerSecond"),
			Burst:         v.GetInt("remote.burst"),
			HealthPath:    v.GetString("remote.healthPath"),
		},
		Sync: SyncConfig{
			Profile:            CleanString(v.GetString("sync.profile"), true),
			LockBackend:        CleanString(v.GetString("sync.lockBackend"), true),
			LockDir:            v.GetString("sync.lockDir"),
			LockTTL:            v.GetDuration("sync.lockTTL"),
			UnknownStorePolicy: CleanString(v.GetString("sync.unknownStorePolicy"), true),
			MaxAttempts:        v.GetInt("sync.maxAttempts"),
			BackoffInitial:     v.GetDuration("sync.backoffInitial"),
			BackoffMax:         v.GetDuration("sync.backoffMax"),
			SubmitTimeout:      v.GetDuration("sync.submitTimeout"),
			CheckInterval:      v.GetDuration("sync.checkInterval"),
			Interval:           v.GetDuration("sync.interval"),
			AlertThreshold:     v.GetInt("sync.alertThreshold"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}
	conf.DefaultFromEmail = *from

	if admins := CleanString(v.GetString("adminEmails")); admins != "" {
		addrs, err := mail.ParseAddressList(admins)
		if err != nil {
			log.Fatalf("config.adminEmails: %v", err)
		}
		for _, addr := range addrs {
			conf.AdminEmails = append(conf.AdminEmails, *addr)
		}
	}

	if conf.ClientID == "" {
		host, _ := os.Hostname()
		conf.ClientID = fmt.Sprintf("%s-%s", strings.ToLower(conf.AppName), host)
	}
	return conf
}
