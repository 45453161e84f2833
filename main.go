package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/fedinbox/activitypub"
	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/store"
	"github.com/deemkeen/fedinbox/util"
	"github.com/deemkeen/fedinbox/web"
	"go.uber.org/zap"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	if err := logger.Init(conf.Conf.LogLevel); err != nil {
		log.Fatalln(err)
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("version", util.GetNameAndVersion()),
		zap.String("domain", conf.Conf.Domain))

	st, err := store.Open(conf.Conf.DataDir)
	if err != nil {
		logger.Error("store open failed", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	fed := activitypub.New(conf, st)

	if err := ensureAnnounceActor(conf, st); err != nil {
		logger.Error("announce actor setup failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fed.StartDeliveryWorker(ctx)

	_, engine := web.NewServer(fed, conf)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler: engine,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// ensureAnnounceActor creates the service's announcement actor on first
// start so host-meta fallbacks and creation announcements can be signed.
func ensureAnnounceActor(conf *util.AppConfig, st *store.Store) error {
	key := conf.AnnounceMention()
	a, err := st.Actor(key)
	if err != nil {
		return err
	}
	exists, err := a.Exists()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	kp, err := util.GeneratePemKeypair()
	if err != nil {
		return err
	}
	actorURL := conf.ActorURL(conf.Conf.AnnounceActor)
	info := &domain.ActorInfo{
		ActorURL:    actorURL,
		PublicKeyID: actorURL + "#main-key",
		KeyPair: domain.KeyPair{
			PublicKeyPem:  kp.Public,
			PrivateKeyPem: kp.Private,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.SetInfo(info); err != nil {
		return err
	}
	logger.Info("announce actor created", zap.String("actor", key))
	return nil
}
