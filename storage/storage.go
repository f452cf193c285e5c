package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	anystore "github.com/anyproto/any-store"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
)

const CName = "guard.storage"

var log = logger.NewNamed(CName)

type Config struct {
	Path string `yaml:"path"`
}

type configGetter interface {
	GetStorage() Config
}

// Storage owns the database shared by the ledger, the record store and the bundle executor
type Storage interface {
	DB() anystore.DB
	app.ComponentRunnable
}

func New() Storage {
	return &storage{}
}

// NewWithDB wraps an already opened database, the component takes ownership and closes it
func NewWithDB(db anystore.DB) Storage {
	return &storage{db: db}
}

type storage struct {
	conf Config
	db   anystore.DB
}

func (s *storage) Init(a *app.App) (err error) {
	if s.db != nil {
		return nil
	}
	s.conf = a.MustComponent("config").(configGetter).GetStorage()
	if s.conf.Path == "" {
		return fmt.Errorf("storage path is not set")
	}
	if err = os.MkdirAll(filepath.Dir(s.conf.Path), 0o755); err != nil {
		return err
	}
	s.db, err = anystore.Open(context.Background(), s.conf.Path, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	log.Info("storage opened", zap.String("path", s.conf.Path))
	return nil
}

func (s *storage) Name() (name string) {
	return CName
}

func (s *storage) Run(ctx context.Context) (err error) {
	return nil
}

func (s *storage) DB() anystore.DB {
	return s.db
}

func (s *storage) Close(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
