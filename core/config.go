package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Capacity policies for class enrollment.
const (
	CapacitySoft    = "soft"
	CapacityEnforce = "enforce"
)

// Mirror backends.
const (
	MirrorMemory   = "memory"
	MirrorPostgres = "postgres"
)

type Config struct {
	Env              string
	Build            string
	AppName          string
	Debug            bool
	TestMode         bool
	SecretKey        string
	DefaultFromEmail string
	FrontendBaseURL  string
	RollbarToken     string
	SendgridAPIKey   string
	LogFile          string

	Server struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	Mirror struct {
		Backend string
	}

	Academy struct {
		CapacityPolicy  string
		MaxCourseBlocks int
	}

	Scheduler struct {
		PublishSpec string
	}
}

// DatabaseAddress returns the "host:port" of the database server.
func (c *Config) DatabaseAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}

// NewConfig loads the application configuration from defaults, an optional `config/.env.<env>` file
// and the environment. ENV selects the environment (DEV by default) and is used as env prefix,
// e.g. DEV_SECRETKEY.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "dev")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "StudyLink")
	v.SetDefault("secretKey", "k2r!9w*zq@7x#studylink-dev-only-secret$5m^p")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("logFile", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "studylink")
	v.SetDefault("dbUser", "studylink")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("mirrorBackend", MirrorMemory)
	v.SetDefault("capacityPolicy", CapacitySoft)
	v.SetDefault("maxCourseBlocks", 7)
	v.SetDefault("schedulerPublishSpec", "* * * * *")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridAPIKey:   v.GetString("sendgridAPIKey"),
		LogFile:          v.GetString("logFile"),
	}

	conf.Server.Host = v.GetString("serverHost")
	conf.Server.Address = v.GetString("serverAddress")
	conf.Server.DebugHost = v.GetString("serverDebugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("serverShutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("dbEngine")
	conf.Database.Host = v.GetString("dbHost")
	conf.Database.Port = v.GetString("dbPort")
	conf.Database.Name = v.GetString("dbName")
	conf.Database.User = v.GetString("dbUser")
	conf.Database.Password = v.GetString("dbPassword")
	conf.Database.AdminUser = v.GetString("dbAdminUser")
	conf.Database.AdminPassword = v.GetString("dbAdminPassword")
	conf.Database.DisableTLS = v.GetBool("dbDisableTLS")

	conf.Mirror.Backend = strings.ToLower(v.GetString("mirrorBackend"))
	conf.Academy.CapacityPolicy = strings.ToLower(v.GetString("capacityPolicy"))
	conf.Academy.MaxCourseBlocks = v.GetInt("maxCourseBlocks")
	conf.Scheduler.PublishSpec = v.GetString("schedulerPublishSpec")

	return conf
}

// NewTestConfig returns a configuration suitable for tests: no I/O, in-memory mirror, fixed secret.
func NewTestConfig() *Config {
	conf := &Config{
		Env:              "TEST",
		Build:            "test",
		AppName:          "StudyLink",
		TestMode:         true,
		SecretKey:        "secret",
		DefaultFromEmail: "noreply@localhost",
		FrontendBaseURL:  "http://localhost:3000",
	}
	conf.Server.Host = "localhost"
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Mirror.Backend = MirrorMemory
	conf.Academy.CapacityPolicy = CapacitySoft
	conf.Academy.MaxCourseBlocks = 7
	conf.Scheduler.PublishSpec = "* * * * *"
	return conf
}
