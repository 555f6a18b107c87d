package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zendbit/StringDB/internal/client"
	"github.com/zendbit/StringDB/internal/stringdbserver"
)

const insertInterval = time.Millisecond * 100

func newOnePair(i int) stringdbserver.KeyValue {
	return stringdbserver.KeyValue{
		Key:   []byte("key-" + strconv.Itoa(i) + "-" + strconv.Itoa(rand.Intn(1000))),
		Value: []byte("sample text " + strconv.Itoa(i)),
	}
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	sugar := logger.Sugar()

	address := flag.String("ADDRESS", "127.0.0.1:3200", "server address")
	authToken := flag.String("TOKEN", "", "shared auth token")
	flag.Parse()

	c, err := client.NewStringDBClient(*address, *authToken)
	if err != nil {
		sugar.Fatalw("connect", "address", *address, "err", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	chk := newChecker(c, logger)

	var wg sync.WaitGroup
	wg.Add(2)

	go func(ctx context.Context) {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				sugar.Infow("insert loop done")
				return
			default:
				pair := newOnePair(i)
				if err := chk.insert(ctx, pair); err != nil {
					sugar.Errorw("insert", "key", string(pair.Key), "err", err)
				}
				time.Sleep(insertInterval)
			}
		}
	}(ctx)

	go func(ctx context.Context) {
		defer wg.Done()
		ticker := time.NewTicker(time.Second * 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				sugar.Infow("verify loop done")
				return
			case <-ticker.C:
				if err := chk.verify(ctx); err != nil {
					sugar.Errorw("verify", "err", err)
				}
			}
		}
	}(ctx)

	wg.Wait()
	chk.report()
}
