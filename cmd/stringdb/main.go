package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/zendbit/StringDB/internal/config"
	"github.com/zendbit/StringDB/internal/query"
	"github.com/zendbit/StringDB/internal/stringdb"
	"github.com/zendbit/StringDB/internal/stringdbserver"
)

func main() {
	logger, err := zap.NewDevelopment() // or NewProduction
	if err != nil {
		log.Fatal(err)
	}
	conf := config.NewConfig()

	if err := os.MkdirAll(filepath.Dir(conf.StoreFile), 0o755); err != nil {
		log.Fatal(err)
	}
	file, err := os.OpenFile(conf.StoreFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Fatal(err)
	}

	db, err := stringdb.New(file, logger)
	if err != nil {
		log.Fatal(err)
	}
	buffered, err := stringdb.NewBuffered(db, conf.BufferSize, true, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := buffered.Close(); err != nil {
			log.Println(err)
		}
		if err := file.Close(); err != nil {
			log.Println(err)
		}
	}()

	mgr := query.NewManager(buffered, logger)
	s := stringdbserver.NewStringDBServer(buffered, mgr, conf, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)

	go func(ctx context.Context) {
		defer wg.Done()
		if err := mgr.Run(ctx); err != nil {
			log.Println(err)
		}
	}(ctx)

	go func(ctx context.Context) {
		defer wg.Done()
		<-ctx.Done()
		s.GracefulStop()
	}(ctx)

	if err := s.Start(); err != nil {
		log.Println(err)
	}

	wg.Wait()
}
