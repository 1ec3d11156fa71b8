package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env             string        `yaml:"env" env:"ENV" env-default:"local"`
	Storage         string        `yaml:"storage" env:"STORAGE" env-default:"sqlite"`
	StoragePath     string        `yaml:"storage_path" env:"STORAGE_PATH"`
	SecretKey       string        `yaml:"secret_key" env:"SECRET_KEY" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"168h"`
	HTTP            HTTPConfig    `yaml:"http"`
	Mongo           MongoConfig   `yaml:"mongo"`
	Redis           RedisConfig   `yaml:"redis"`
}

type HTTPConfig struct {
	Port    int           `yaml:"port" env-default:"8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE"`
}

// RedisConfig configures the optional refresh-token ledger backend. When
// Addr is empty the ledger lives in the primary storage.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
