package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/bundle"
	"github.com/anyproto/any-guard/crank"
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/guardrpc"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/storage"
)

const CName = "config"

func NewFromFile(path string) (c *Config, err error) {
	c = &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Log         logger.Config      `yaml:"log"`
	Storage     storage.Config     `yaml:"storage"`
	RecordStore recordstore.Config `yaml:"recordStore"`
	Guard       guard.Config       `yaml:"guard"`
	Bundle      bundle.Config      `yaml:"bundle"`
	Crank       crank.Config       `yaml:"crank"`
	Metric      metric.Config      `yaml:"metric"`
	Rpc         guardrpc.Config    `yaml:"rpc"`
}

func (c *Config) Init(a *app.App) (err error) {
	return
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetStorage() storage.Config {
	return c.Storage
}

func (c *Config) GetRecordStore() recordstore.Config {
	return c.RecordStore
}

func (c *Config) GetGuard() guard.Config {
	return c.Guard
}

func (c *Config) GetBundle() bundle.Config {
	return c.Bundle
}

func (c *Config) GetCrank() crank.Config {
	return c.Crank
}

func (c *Config) GetMetric() metric.Config {
	return c.Metric
}

func (c *Config) GetRpc() guardrpc.Config {
	return c.Rpc
}
