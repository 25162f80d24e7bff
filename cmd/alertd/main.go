package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"alertd/internal/alert"
	"alertd/internal/app"
	logx "alertd/pkg/logx"
)

func main() {
	var (
		cfgPath string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&demo, "demo", false, "schedule a sample timer 10s out and log its lifecycle")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	if demo {
		go runDemo(ctx, a)
	}

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

// runDemo schedules one timer shortly in the future and prints every
// lifecycle event it produces. Handy for checking a device image makes
// noise end to end.
func runDemo(ctx context.Context, a *app.App) {
	log := logx.NewConsole("debug").With(logx.String("comp", "demo"))
	ch, unsub := a.Bus().Subscribe(16)
	defer unsub()

	token := uuid.NewString()
	r, err := alert.New(token, alert.TypeTimer, time.Now().Add(10*time.Second))
	if err != nil {
		log.Error("demo alert build failed", logx.Err(err))
		return
	}
	r.LoopCount = 2
	r.LoopPause = time.Second
	if err := a.Scheduler().ScheduleAlert(r); err != nil {
		log.Error("demo alert schedule failed", logx.Err(err))
		return
	}
	log.Info("demo timer scheduled", logx.String("token", token))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			log.Info("lifecycle",
				logx.String("token", ev.Info.Token),
				logx.String("state", string(ev.Info.State)),
				logx.String("reason", ev.Info.Reason))
			switch ev.Info.State {
			case alert.LifecycleStopped, alert.LifecycleCompleted, alert.LifecycleError:
				return
			}
		}
	}
}
